package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"adeguard/analysis"
	"adeguard/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	calls    atomic.Int32
	entities []models.EntitySpan
	err      error
}

func (f *fakeExtractor) ExtractEntities(ctx context.Context, text string) (*analysis.Extraction, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Extraction{Entities: f.entities, ConfidenceThreshold: 0.8}, nil
}

type fakeClassifier struct {
	calls  atomic.Int32
	result models.SeverityResult
	err    error
}

func (f *fakeClassifier) ClassifySeverity(ctx context.Context, text string, entities []models.EntitySpan, age *int) (*models.SeverityResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	r := f.result
	return &r, nil
}

type fakeClusterer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeClusterer) AnalyzeCluster(ctx context.Context, text string, entities []models.EntitySpan, age *int) (*models.ClusterResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.ClusterResult{ClusterID: 1, ClusterLabel: "test", ClusterSize: 3, SimilarityScore: 0.7}, nil
}

type fakeExplainer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeExplainer) GenerateExplanation(ctx context.Context, text string, severity *models.SeverityResult, entities []models.EntitySpan) (*models.ExplanationResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &models.ExplanationResult{ExplanationText: "because"}, nil
}

type fakes struct {
	ex *fakeExtractor
	cl *fakeClassifier
	cu *fakeClusterer
	xp *fakeExplainer
}

func newFakes() *fakes {
	return &fakes{
		ex: &fakeExtractor{entities: []models.EntitySpan{
			{Text: "rash", Label: models.LabelADE, Start: 0, End: 4, Confidence: 0.95},
			{Text: "tiredness", Label: models.LabelADE, Start: 9, End: 18, Confidence: 0.6},
			{Text: "vaccine", Label: models.LabelDrug, Start: 25, End: 32, Confidence: 0.85},
		}},
		cl: &fakeClassifier{result: models.SeverityResult{
			PredictedSeverity: models.SeverityModerate,
			Confidence:        0.7,
			SeverityProbabilities: map[models.Severity]float64{
				models.SeverityMild: 0.2, models.SeverityModerate: 0.7, models.SeveritySevere: 0.1, models.SeverityLifeThreatening: 0,
			},
		}},
		cu: &fakeClusterer{},
		xp: &fakeExplainer{},
	}
}

func (f *fakes) pipeline() *Pipeline {
	return New(f.ex, f.cl, f.cu, f.xp, Options{})
}

func rulePipeline() *Pipeline {
	store := analysis.NewStaticRuleStore(analysis.MustCompile(analysis.DefaultRules()))
	return New(
		analysis.NewRuleBasedExtractor(store),
		analysis.NewRuleBasedClassifier(store),
		analysis.NewRuleBasedClusterAnalyzer(store),
		analysis.NewRuleBasedExplainer(),
		Options{},
	)
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestProcessSevereReport(t *testing.T) {
	report := models.NewReportRequest("Patient developed severe headache and high fever after vaccination")
	report.PatientAge = intPtr(45)

	result, err := rulePipeline().Process(context.Background(), report)
	require.NoError(t, err)

	assert.Equal(t, models.SeveritySevere, result.SeverityAnalysis.PredictedSeverity)
	assert.True(t, result.Summary.RequiresAttention)
	assert.Equal(t, []models.Alert{{Level: models.AlertWarning, Message: alertSevere}}, result.Alerts)
	assert.Contains(t, result.Recommendations, "Consider discontinuation of suspected medication")
	assert.NotNil(t, result.ClusterAnalysis)
	require.NotNil(t, result.Explainability)
	assert.Equal(t, result.SeverityAnalysis.Confidence, result.Explainability.PredictionConfidence)
	assert.NotEmpty(t, result.RequestID)
	assert.Equal(t, "completed", result.ProcessingStatus)
}

func TestProcessMildReport(t *testing.T) {
	result, err := rulePipeline().Process(context.Background(), models.NewReportRequest("mild tiredness for one day"))
	require.NoError(t, err)

	assert.Equal(t, models.SeverityMild, result.SeverityAnalysis.PredictedSeverity)
	assert.False(t, result.Summary.RequiresAttention)
	assert.Empty(t, result.Alerts)
	assert.Equal(t, routineRecommendations, result.Recommendations)
}

func TestProcessFiltersEntitiesByThreshold(t *testing.T) {
	f := newFakes()

	result, err := f.pipeline().Process(context.Background(), models.NewReportRequest("rash and tiredness after vaccine"))
	require.NoError(t, err)
	require.Len(t, result.ExtractedEntities, 2)
	for _, e := range result.ExtractedEntities {
		assert.GreaterOrEqual(t, e.Confidence, 0.8)
	}
	assert.Equal(t, 1, result.Summary.EntityCounts[models.LabelADE])
	assert.Equal(t, 1, result.Summary.EntityCounts[models.LabelDrug])
	assert.Equal(t, 2, result.Summary.TotalEntities)

	report := models.NewReportRequest("rash and tiredness after vaccine")
	report.ConfidenceThreshold = floatPtr(0.5)
	result, err = f.pipeline().Process(context.Background(), report)
	require.NoError(t, err)
	assert.Len(t, result.ExtractedEntities, 3)
}

func TestProcessValidationRunsNoStage(t *testing.T) {
	f := newFakes()

	_, err := f.pipeline().Process(context.Background(), models.NewReportRequest("severe headache"))
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int32(0), f.ex.calls.Load())
	assert.Equal(t, int32(0), f.cl.calls.Load())
}

func TestProcessMandatoryStageFailure(t *testing.T) {
	f := newFakes()
	f.ex.err = errors.New("model unavailable")

	_, err := f.pipeline().Process(context.Background(), models.NewReportRequest("rash and tiredness after vaccine"))
	var aerr *AnalysisError
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, analysis.StageExtraction, aerr.Stage)
	assert.Equal(t, int32(0), f.cl.calls.Load())

	f = newFakes()
	f.cl.err = errors.New("classifier down")
	_, err = f.pipeline().Process(context.Background(), models.NewReportRequest("rash and tiredness after vaccine"))
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, analysis.StageClassification, aerr.Stage)
	stage, ok := analysis.StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, analysis.StageClassification, stage)
	assert.Equal(t, int32(0), f.cu.calls.Load())
}

func TestProcessOptionalStageFailure(t *testing.T) {
	f := newFakes()
	f.cu.err = errors.New("no clusters")

	result, err := f.pipeline().Process(context.Background(), models.NewReportRequest("rash and tiredness after vaccine"))
	require.NoError(t, err)
	assert.Nil(t, result.ClusterAnalysis)
	require.NotNil(t, result.Explainability)
	require.Len(t, result.StageErrors, 1)
	assert.Equal(t, "clustering", result.StageErrors[0].Stage)
	assert.Equal(t, "no clusters", result.StageErrors[0].Error)
	assert.Equal(t, "completed_with_warnings", result.ProcessingStatus)

	body, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"cluster_analysis":null`)
	assert.Contains(t, string(body), `"stage_errors":[{"stage":"clustering","error":"no clusters"}]`)
}

func TestProcessSkipsDisabledStages(t *testing.T) {
	f := newFakes()
	report := models.NewReportRequest("rash and tiredness after vaccine")
	report.IncludeClustering = false

	result, err := New(f.ex, f.cl, f.cu, f.xp, Options{DisableExplainability: true}).Process(context.Background(), report)
	require.NoError(t, err)
	assert.Nil(t, result.ClusterAnalysis)
	assert.Nil(t, result.Explainability)
	assert.Equal(t, int32(0), f.cu.calls.Load())
	assert.Equal(t, int32(0), f.xp.calls.Load())
	assert.Empty(t, result.StageErrors)
}

func TestProcessAlertsDisabled(t *testing.T) {
	f := newFakes()
	f.cl.result.PredictedSeverity = models.SeverityLifeThreatening
	report := models.NewReportRequest("rash and tiredness after vaccine")
	report.EnableAlerts = false

	result, err := f.pipeline().Process(context.Background(), report)
	require.NoError(t, err)
	assert.Empty(t, result.Alerts)
	assert.True(t, result.Summary.RequiresAttention)
}

func TestProcessIsIdempotent(t *testing.T) {
	p := rulePipeline()
	report := models.NewReportRequest("high fever and rash after the flu shot")

	first, err := p.Process(context.Background(), report)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), report)
	require.NoError(t, err)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Alerts, second.Alerts)
	assert.Equal(t, first.Recommendations, second.Recommendations)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestAlerts(t *testing.T) {
	testCases := []struct {
		name     string
		severity models.Severity
		conf     float64
		expected []models.Alert
	}{
		{"life threatening high confidence", models.SeverityLifeThreatening, 0.95, []models.Alert{
			{Level: models.AlertCritical, Message: alertLifeThreatening},
			{Level: models.AlertInfo, Message: "🎯 HIGH CONFIDENCE: Prediction confidence 95.0%"},
		}},
		{"severe", models.SeveritySevere, 0.8, []models.Alert{
			{Level: models.AlertWarning, Message: alertSevere},
		}},
		{"low confidence", models.SeverityMild, 0.55, []models.Alert{
			{Level: models.AlertInfo, Message: "⚠️ LOW CONFIDENCE: Prediction confidence 55.0% - Manual review recommended"},
		}},
		{"boundaries", models.SeverityModerate, 0.6, []models.Alert{}},
		{"upper boundary", models.SeverityModerate, 0.9, []models.Alert{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Alerts(models.SeverityResult{PredictedSeverity: tc.severity, Confidence: tc.conf})
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRecommendations(t *testing.T) {
	assert.Equal(t, urgentRecommendations, Recommendations(models.SeverityLifeThreatening))
	assert.Equal(t, moderateRecommendations, Recommendations(models.SeverityModerate))
	assert.Equal(t, routineRecommendations, Recommendations(models.SeverityUnknown))

	recs := Recommendations(models.SeveritySevere)
	recs[0] = "changed"
	assert.Equal(t, "Immediately assess patient vital signs", urgentRecommendations[0])
}

func TestHealth(t *testing.T) {
	statuses := rulePipeline().Health(context.Background())
	require.Len(t, statuses, 4)
	assert.True(t, Healthy(statuses))
	assert.Equal(t, "keyword-ner", statuses[0].Model)

	f := newFakes()
	f.cu.err = errors.New("down")
	statuses = f.pipeline().Health(context.Background())
	assert.False(t, Healthy(statuses))
	assert.Equal(t, "unhealthy", statuses[2].Status)
}
