// Package analysis defines the four analysis stages applied to an adverse
// event report and rule-based implementations of each stage.
package analysis

import (
	"context"

	"adeguard/models"
)

// Extraction is the raw output of an EntityExtractor. ConfidenceThreshold is
// the extractor's own default, used when a report does not carry one.
type Extraction struct {
	Entities            []models.EntitySpan
	ConfidenceThreshold float64
}

// EntityExtractor tags ADE, DRUG and MODIFIER spans in report text.
// Implementations must be safe for concurrent use.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) (*Extraction, error)
}

// SeverityClassifier assigns a severity label and a probability for each
// defined severity.
type SeverityClassifier interface {
	ClassifySeverity(ctx context.Context, text string, entities []models.EntitySpan, age *int) (*models.SeverityResult, error)
}

// ClusterAnalyzer places a report in a group of similar reports.
type ClusterAnalyzer interface {
	AnalyzeCluster(ctx context.Context, text string, entities []models.EntitySpan, age *int) (*models.ClusterResult, error)
}

// ExplanationGenerator explains a severity decision in terms of the input.
type ExplanationGenerator interface {
	GenerateExplanation(ctx context.Context, text string, severity *models.SeverityResult, entities []models.EntitySpan) (*models.ExplanationResult, error)
}

// Describer is implemented by stages that can report their name and version.
type Describer interface {
	ModelName() string
	ModelVersion() string
}
