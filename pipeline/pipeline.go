// Package pipeline runs the analysis stages for a single report and turns
// their output into a ReportResult.
package pipeline

import (
	"context"
	"time"

	"adeguard/analysis"
	"adeguard/models"

	"github.com/apex/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options are process-wide switches applied on top of per-report flags.
type Options struct {
	DisableClustering     bool
	DisableExplainability bool
}

// Pipeline is stateless between calls and safe for concurrent use.
type Pipeline struct {
	extractor  analysis.EntityExtractor
	classifier analysis.SeverityClassifier
	clusterer  analysis.ClusterAnalyzer
	explainer  analysis.ExplanationGenerator
	opts       Options

	now   func() time.Time
	newID func() string
}

func New(extractor analysis.EntityExtractor, classifier analysis.SeverityClassifier, clusterer analysis.ClusterAnalyzer, explainer analysis.ExplanationGenerator, opts Options) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		classifier: classifier,
		clusterer:  clusterer,
		explainer:  explainer,
		opts:       opts,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Process analyses one report. Validation failures return a
// *models.ValidationError before any stage runs; extraction and
// classification failures return an *AnalysisError. Clustering and
// explanation failures leave the corresponding result nil and are listed in
// StageErrors.
func (p *Pipeline) Process(ctx context.Context, report models.ReportRequest) (*models.ReportResult, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var metrics models.ProcessingMetrics

	stageStart := time.Now()
	extraction, err := p.extractor.ExtractEntities(ctx, report.SymptomText)
	if err != nil {
		return nil, newAnalysisError(analysis.StageExtraction, err)
	}
	metrics.NERProcessingTime = time.Since(stageStart).Seconds()

	threshold := extraction.ConfidenceThreshold
	if report.ConfidenceThreshold != nil {
		threshold = *report.ConfidenceThreshold
	}
	entities := filterEntities(extraction.Entities, threshold)

	stageStart = time.Now()
	severity, err := p.classifier.ClassifySeverity(ctx, report.SymptomText, entities, report.PatientAge)
	if err != nil {
		return nil, newAnalysisError(analysis.StageClassification, err)
	}
	metrics.SeverityClassificationTime = time.Since(stageStart).Seconds()

	var (
		cluster     *models.ClusterResult
		explanation *models.ExplanationResult
		clusterErr  error
		explainErr  error
	)
	g := new(errgroup.Group)
	if report.IncludeClustering && !p.opts.DisableClustering {
		g.Go(func() error {
			t := time.Now()
			cluster, clusterErr = p.clusterer.AnalyzeCluster(ctx, report.SymptomText, entities, report.PatientAge)
			metrics.ClusteringTime = time.Since(t).Seconds()
			return nil
		})
	}
	if report.IncludeExplainability && !p.opts.DisableExplainability {
		g.Go(func() error {
			t := time.Now()
			explanation, explainErr = p.explainer.GenerateExplanation(ctx, report.SymptomText, severity, entities)
			metrics.ExplainabilityTime = time.Since(t).Seconds()
			return nil
		})
	}
	_ = g.Wait()

	var diagnostics []models.StageDiagnostic
	if clusterErr != nil {
		cluster = nil
		diagnostics = append(diagnostics, optionalStageFailure(analysis.StageClustering, clusterErr))
	}
	if explainErr != nil {
		explanation = nil
		diagnostics = append(diagnostics, optionalStageFailure(analysis.StageExplanation, explainErr))
	}

	alerts := []models.Alert{}
	if report.EnableAlerts {
		alerts = Alerts(*severity)
	}

	status := "completed"
	if len(diagnostics) > 0 {
		status = "completed_with_warnings"
	}
	metrics.TotalProcessingTime = time.Since(start).Seconds()

	return &models.ReportResult{
		RequestID:         p.newID(),
		Timestamp:         p.now().UTC(),
		ProcessingStatus:  status,
		ExtractedEntities: entities,
		SeverityAnalysis:  *severity,
		ClusterAnalysis:   cluster,
		Explainability:    explanation,
		Summary:           Summarize(entities, severity.PredictedSeverity),
		Alerts:            alerts,
		Recommendations:   Recommendations(severity.PredictedSeverity),
		ProcessingMetrics: metrics,
		StageErrors:       diagnostics,
	}, nil
}

func filterEntities(entities []models.EntitySpan, threshold float64) []models.EntitySpan {
	out := make([]models.EntitySpan, 0, len(entities))
	for _, e := range entities {
		if e.Confidence >= threshold {
			out = append(out, e)
		}
	}
	return out
}

func optionalStageFailure(stage analysis.Stage, err error) models.StageDiagnostic {
	log.WithFields(log.Fields{
		"stage": string(stage),
		"error": err.Error(),
	}).Warn("pipeline.optional_stage_failed")
	return models.StageDiagnostic{Stage: string(stage), Error: err.Error()}
}
