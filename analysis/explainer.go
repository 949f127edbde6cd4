package analysis

import (
	"context"
	"fmt"
	"strings"

	"adeguard/models"

	"github.com/shopspring/decimal"
)

const (
	maxExplainedTerms = 5
	maxTopFeatures    = 3

	attributionBaseValue = 0.25
)

var (
	shapBase  = decimal.NewFromFloat(0.8)
	limeBase  = decimal.NewFromFloat(0.7)
	rankDecay = decimal.NewFromFloat(0.1)
)

// RuleBasedExplainer attributes a severity decision to the ADE and DRUG
// terms of a report, in order of appearance.
type RuleBasedExplainer struct{}

func NewRuleBasedExplainer() *RuleBasedExplainer {
	return &RuleBasedExplainer{}
}

func (x *RuleBasedExplainer) ModelName() string    { return "term-attribution" }
func (x *RuleBasedExplainer) ModelVersion() string { return "explainability-v1.0" }

func (x *RuleBasedExplainer) GenerateExplanation(ctx context.Context, text string, result *models.SeverityResult, entities []models.EntitySpan) (*models.ExplanationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStageError(StageExplanation, err)
	}
	severity, confidence := models.SeverityUnknown, 0.0
	if result != nil {
		severity, confidence = result.PredictedSeverity, result.Confidence
	}

	terms := keyTerms(entities)

	var explanation string
	if severity.RequiresAttention() && len(terms) > 0 {
		explanation = fmt.Sprintf("Severity classified as %s due to presence of critical terms: %s",
			severity, strings.Join(terms[:min(len(terms), maxTopFeatures)], ", "))
	} else {
		explanation = fmt.Sprintf("Severity classified as %s based on symptom indicators and context", severity)
	}

	explained := terms[:min(len(terms), maxExplainedTerms)]
	shap := make([]models.FeatureImportance, 0, len(explained))
	lime := make([]models.FeatureImportance, 0, len(explained))
	for i, term := range explained {
		decay := rankDecay.Mul(decimal.NewFromInt(int64(i)))
		shap = append(shap, models.FeatureImportance{Feature: term, Importance: shapBase.Sub(decay).InexactFloat64()})
		lime = append(lime, models.FeatureImportance{Feature: term, Importance: limeBase.Sub(decay).InexactFloat64()})
	}

	return &models.ExplanationResult{
		ExplanationText: explanation,
		TopFeatures:     append([]models.FeatureImportance(nil), shap[:min(len(shap), maxTopFeatures)]...),
		SHAPValues:      shap,
		LIMEExplanation: lime,
		KeyTerms:        terms,

		BaseValue:             attributionBaseValue,
		PredictionConfidence:  confidence,
		PredictionProbability: confidence,
	}, nil
}

// keyTerms returns distinct ADE and DRUG texts in order of first appearance.
func keyTerms(entities []models.EntitySpan) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, e := range entities {
		if e.Label != models.LabelADE && e.Label != models.LabelDrug {
			continue
		}
		key := strings.ToLower(e.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		terms = append(terms, e.Text)
	}
	return terms
}
