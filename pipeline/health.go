package pipeline

import (
	"context"

	"adeguard/analysis"
	"adeguard/models"
)

const probeText = "Patient developed fever and headache after vaccination"

// StageStatus is the outcome of probing one stage.
type StageStatus struct {
	Stage   string `json:"stage"`
	Status  string `json:"status"`
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health runs every stage on a fixed probe text.
func (p *Pipeline) Health(ctx context.Context) []StageStatus {
	statuses := make([]StageStatus, 0, 4)

	extraction, err := p.extractor.ExtractEntities(ctx, probeText)
	statuses = append(statuses, stageStatus(analysis.StageExtraction, p.extractor, err))
	var entities []models.EntitySpan
	if err == nil {
		entities = extraction.Entities
	}

	severity, err := p.classifier.ClassifySeverity(ctx, probeText, entities, nil)
	statuses = append(statuses, stageStatus(analysis.StageClassification, p.classifier, err))
	if err != nil {
		severity = &models.SeverityResult{PredictedSeverity: models.SeverityUnknown}
	}

	_, err = p.clusterer.AnalyzeCluster(ctx, probeText, entities, nil)
	statuses = append(statuses, stageStatus(analysis.StageClustering, p.clusterer, err))

	_, err = p.explainer.GenerateExplanation(ctx, probeText, severity, entities)
	statuses = append(statuses, stageStatus(analysis.StageExplanation, p.explainer, err))

	return statuses
}

// Healthy reports whether every probed stage succeeded.
func Healthy(statuses []StageStatus) bool {
	for _, s := range statuses {
		if s.Status != "healthy" {
			return false
		}
	}
	return true
}

// Models describes the implementation behind each stage.
func (p *Pipeline) Models() []StageStatus {
	return []StageStatus{
		describe(analysis.StageExtraction, p.extractor),
		describe(analysis.StageClassification, p.classifier),
		describe(analysis.StageClustering, p.clusterer),
		describe(analysis.StageExplanation, p.explainer),
	}
}

func stageStatus(stage analysis.Stage, impl any, err error) StageStatus {
	s := describe(stage, impl)
	s.Status = "healthy"
	if err != nil {
		s.Status = "unhealthy"
		s.Error = err.Error()
	}
	return s
}

func describe(stage analysis.Stage, impl any) StageStatus {
	s := StageStatus{Stage: string(stage), Status: "loaded"}
	if d, ok := impl.(analysis.Describer); ok {
		s.Model = d.ModelName()
		s.Version = d.ModelVersion()
	}
	return s
}
