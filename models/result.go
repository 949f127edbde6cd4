package models

import (
	"maps"
	"slices"
	"time"
)

// EntitySpan is a tagged span of the report text.
type EntitySpan struct {
	Text       string      `json:"text"`
	Label      EntityLabel `json:"label"`
	Start      int         `json:"start"`
	End        int         `json:"end"`
	Confidence float64     `json:"confidence"`
}

type SeverityResult struct {
	PredictedSeverity     Severity             `json:"predicted_severity"`
	Confidence            float64              `json:"confidence"`
	SeverityProbabilities map[Severity]float64 `json:"severity_probabilities"`
	PredictionMethod      string               `json:"prediction_method"`
	RiskFactors           []string             `json:"risk_factors,omitempty"`
}

// ClusterResult places a report among previously seen groups of reports.
// ClusterID -1 marks an unknown assignment.
type ClusterResult struct {
	ClusterID            int            `json:"cluster_id"`
	ClusterLabel         string         `json:"cluster_label"`
	ClusterSize          int            `json:"cluster_size"`
	SimilarityScore      float64        `json:"similarity_score"`
	AgeGroupDistribution map[string]int `json:"age_group_distribution"`
	SeverityDistribution map[string]int `json:"severity_distribution"`
	CommonSymptoms       []string       `json:"common_symptoms,omitempty"`
}

type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// ExplanationResult attributes a severity decision to terms of the report.
// PredictionConfidence and PredictionProbability echo the classifier's
// confidence; BaseValue is the attribution baseline.
type ExplanationResult struct {
	ExplanationText       string              `json:"explanation_text"`
	TopFeatures           []FeatureImportance `json:"top_features"`
	SHAPValues            []FeatureImportance `json:"shap_values,omitempty"`
	LIMEExplanation       []FeatureImportance `json:"lime_explanation,omitempty"`
	KeyTerms              []string            `json:"key_terms,omitempty"`
	BaseValue             float64             `json:"base_value"`
	PredictionConfidence  float64             `json:"prediction_confidence"`
	PredictionProbability float64             `json:"prediction_probability"`
}

type Alert struct {
	Level   AlertLevel `json:"level"`
	Message string     `json:"message"`
}

type ReportSummary struct {
	ADEEntitiesFound      []string            `json:"ade_entities_found"`
	DrugEntitiesFound     []string            `json:"drug_entities_found"`
	ModifierEntitiesFound []string            `json:"modifier_entities_found"`
	EntityCounts          map[EntityLabel]int `json:"entity_counts"`
	TotalEntities         int                 `json:"total_entities"`
	SeverityLevel         Severity            `json:"severity_level"`
	RequiresAttention     bool                `json:"requires_attention"`
}

// ProcessingMetrics holds per-stage durations in seconds.
type ProcessingMetrics struct {
	TotalProcessingTime        float64 `json:"total_processing_time"`
	NERProcessingTime          float64 `json:"ner_processing_time"`
	SeverityClassificationTime float64 `json:"severity_classification_time"`
	ClusteringTime             float64 `json:"clustering_time"`
	ExplainabilityTime         float64 `json:"explainability_time"`
}

// StageDiagnostic records an optional stage that failed without failing the report.
type StageDiagnostic struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// ReportResult is the outcome of analysing a single report.
type ReportResult struct {
	RequestID         string             `json:"request_id"`
	Timestamp         time.Time          `json:"timestamp"`
	ProcessingStatus  string             `json:"processing_status"`
	ExtractedEntities []EntitySpan       `json:"extracted_entities"`
	SeverityAnalysis  SeverityResult     `json:"severity_analysis"`
	ClusterAnalysis   *ClusterResult     `json:"cluster_analysis"`
	Explainability    *ExplanationResult `json:"explainability"`
	Summary           ReportSummary      `json:"summary"`
	Alerts            []Alert            `json:"alerts"`
	Recommendations   []string           `json:"recommendations"`
	ProcessingMetrics ProcessingMetrics  `json:"processing_metrics"`
	StageErrors       []StageDiagnostic  `json:"stage_errors,omitempty"`
}

// Clone returns a deep copy so the result can be re-stamped and handed to
// another caller. Empty lists stay empty rather than becoming nil.
func (r *ReportResult) Clone() *ReportResult {
	if r == nil {
		return nil
	}
	out := *r
	out.ExtractedEntities = slices.Clone(r.ExtractedEntities)
	out.SeverityAnalysis.SeverityProbabilities = maps.Clone(r.SeverityAnalysis.SeverityProbabilities)
	out.SeverityAnalysis.RiskFactors = slices.Clone(r.SeverityAnalysis.RiskFactors)
	if r.ClusterAnalysis != nil {
		c := *r.ClusterAnalysis
		c.AgeGroupDistribution = maps.Clone(c.AgeGroupDistribution)
		c.SeverityDistribution = maps.Clone(c.SeverityDistribution)
		c.CommonSymptoms = slices.Clone(c.CommonSymptoms)
		out.ClusterAnalysis = &c
	}
	if r.Explainability != nil {
		x := *r.Explainability
		x.TopFeatures = slices.Clone(x.TopFeatures)
		x.SHAPValues = slices.Clone(x.SHAPValues)
		x.LIMEExplanation = slices.Clone(x.LIMEExplanation)
		x.KeyTerms = slices.Clone(x.KeyTerms)
		out.Explainability = &x
	}
	out.Summary.ADEEntitiesFound = slices.Clone(r.Summary.ADEEntitiesFound)
	out.Summary.DrugEntitiesFound = slices.Clone(r.Summary.DrugEntitiesFound)
	out.Summary.ModifierEntitiesFound = slices.Clone(r.Summary.ModifierEntitiesFound)
	out.Summary.EntityCounts = maps.Clone(r.Summary.EntityCounts)
	out.Alerts = slices.Clone(r.Alerts)
	out.Recommendations = slices.Clone(r.Recommendations)
	out.StageErrors = slices.Clone(r.StageErrors)
	return &out
}
