package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adeguard/analysis"
	"adeguard/models"
	"adeguard/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProcessor returns canned outcomes keyed by the report text.
type scriptedProcessor struct {
	calls    atomic.Int32
	mu       sync.Mutex
	seen     []models.ReportRequest
	failOn   map[string]error
	severity map[string]models.Severity
	delay    time.Duration
	delayOn  map[string]time.Duration
}

func (p *scriptedProcessor) Process(ctx context.Context, report models.ReportRequest) (*models.ReportResult, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.seen = append(p.seen, report)
	p.mu.Unlock()

	delay := p.delay
	if d, ok := p.delayOn[report.SymptomText]; ok {
		delay = d
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := p.failOn[report.SymptomText]; ok {
		return nil, err
	}
	sev := models.SeverityMild
	if s, ok := p.severity[report.SymptomText]; ok {
		sev = s
	}
	return &models.ReportResult{
		RequestID:        report.SymptomText,
		SeverityAnalysis: models.SeverityResult{PredictedSeverity: sev, Confidence: 0.8},
		Summary:          models.ReportSummary{SeverityLevel: sev, RequiresAttention: sev.RequiresAttention()},
		Alerts:           pipeline.Alerts(models.SeverityResult{PredictedSeverity: sev, Confidence: 0.8}),
	}, nil
}

func reportsOf(texts ...string) []models.ReportRequest {
	out := make([]models.ReportRequest, 0, len(texts))
	for _, t := range texts {
		out = append(out, models.NewReportRequest(t))
	}
	return out
}

func numbered(n int) []models.ReportRequest {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("report number %d text", i)
	}
	return reportsOf(texts...)
}

func TestProcessBatchTooLarge(t *testing.T) {
	proc := &scriptedProcessor{}
	c := NewCoordinator(proc, Config{})

	_, err := c.ProcessBatch(context.Background(), numbered(51), Options{ReturnIndividualResults: true})
	var tooLarge *BatchTooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Equal(t, 51, tooLarge.Size)
	assert.Equal(t, 50, tooLarge.Limit)
	assert.Equal(t, int32(0), proc.calls.Load())
}

func TestProcessBatchEmpty(t *testing.T) {
	proc := &scriptedProcessor{}
	_, err := NewCoordinator(proc, Config{}).ProcessBatch(context.Background(), nil, Options{})
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, int32(0), proc.calls.Load())
}

func TestProcessBatchFailFastSequential(t *testing.T) {
	reports := numbered(5)
	proc := &scriptedProcessor{failOn: map[string]error{
		reports[2].SymptomText: &pipeline.AnalysisError{Stage: analysis.StageExtraction, Err: errors.New("boom")},
	}}
	c := NewCoordinator(proc, Config{Workers: 1})

	result, err := c.ProcessBatch(context.Background(), reports, Options{FailFast: true, ReturnIndividualResults: true})
	require.NoError(t, err)

	assert.LessOrEqual(t, result.SuccessfulReports+result.FailedReports, 3)
	assert.Equal(t, 2, result.SuccessfulReports)
	assert.Equal(t, 1, result.FailedReports)
	assert.Equal(t, int32(3), proc.calls.Load())
	require.Len(t, result.IndividualResults, 2)
	assert.Equal(t, reports[0].SymptomText, result.IndividualResults[0].RequestID)
	assert.Equal(t, reports[1].SymptomText, result.IndividualResults[1].RequestID)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].ReportIndex)
	assert.Equal(t, KindExtraction, result.Errors[0].ErrorType)
	assert.Equal(t, models.BatchPartial, result.BatchStatus)
	assert.InDelta(t, 0.4, result.SuccessRate, 1e-9)
	assert.Equal(t, 5, result.TotalReportsProcessed)
	assert.True(t, result.BatchSummary.FailFastTriggered)
}

func TestProcessBatchFailFastDefaultWorkersDropsLaterReports(t *testing.T) {
	reports := numbered(5)
	proc := &scriptedProcessor{
		failOn:  map[string]error{reports[2].SymptomText: errors.New("bad")},
		delayOn: map[string]time.Duration{reports[2].SymptomText: 50 * time.Millisecond},
	}

	var mu sync.Mutex
	var observed []int
	result, err := NewCoordinator(proc, Config{}).ProcessBatch(context.Background(), reports, Options{
		FailFast:                true,
		ReturnIndividualResults: true,
		OnResult: func(index int, _ string, _ *models.ReportResult) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, index)
		},
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, result.SuccessfulReports+result.FailedReports, 3)
	assert.Equal(t, 1, result.FailedReports)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].ReportIndex)
	for _, r := range result.IndividualResults {
		assert.NotEqual(t, reports[3].SymptomText, r.RequestID)
		assert.NotEqual(t, reports[4].SymptomText, r.RequestID)
	}
	for _, i := range observed {
		assert.Less(t, i, 2)
	}
	assert.Len(t, observed, result.SuccessfulReports)
	assert.True(t, result.BatchSummary.FailFastTriggered)
}

func TestProcessBatchFailFastParallelSkipsUnstarted(t *testing.T) {
	reports := numbered(20)
	proc := &scriptedProcessor{
		failOn: map[string]error{reports[0].SymptomText: errors.New("bad")},
		delay:  20 * time.Millisecond,
	}
	c := NewCoordinator(proc, Config{Workers: 2})

	result, err := c.ProcessBatch(context.Background(), reports, Options{FailFast: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedReports)
	assert.Less(t, int(proc.calls.Load()), 20)
	assert.Less(t, result.SuccessfulReports+result.FailedReports, 20)
}

func TestProcessBatchCollectsErrors(t *testing.T) {
	reports := reportsOf("first report text here", "second report text here", "third report text here")
	reports = append(reports, models.NewReportRequest("short"))
	proc := &scriptedProcessor{failOn: map[string]error{
		"second report text here": &pipeline.AnalysisError{Stage: analysis.StageClassification, Err: errors.New("down")},
		"short":                   &models.ValidationError{Field: "symptom_text", Message: "too short"},
	}}
	c := NewCoordinator(proc, Config{})

	result, err := c.ProcessBatch(context.Background(), reports, Options{ReturnIndividualResults: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessfulReports)
	assert.Equal(t, 2, result.FailedReports)
	assert.Equal(t, models.BatchPartial, result.BatchStatus)
	assert.InDelta(t, 0.5, result.SuccessRate, 1e-9)

	require.Len(t, result.Errors, 2)
	assert.Equal(t, 1, result.Errors[0].ReportIndex)
	assert.Equal(t, KindClassification, result.Errors[0].ErrorType)
	assert.Equal(t, 3, result.Errors[1].ReportIndex)
	assert.Equal(t, KindValidation, result.Errors[1].ErrorType)

	require.Len(t, result.IndividualResults, 2)
	assert.Equal(t, "first report text here", result.IndividualResults[0].RequestID)
	assert.Equal(t, "third report text here", result.IndividualResults[1].RequestID)
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	reports := numbered(30)
	proc := &scriptedProcessor{delay: time.Millisecond}
	c := NewCoordinator(proc, Config{Workers: 8})

	result, err := c.ProcessBatch(context.Background(), reports, Options{ReturnIndividualResults: true})
	require.NoError(t, err)
	require.Len(t, result.IndividualResults, 30)
	for i, r := range result.IndividualResults {
		assert.Equal(t, reports[i].SymptomText, r.RequestID)
	}
	assert.Equal(t, models.BatchCompleted, result.BatchStatus)
	assert.Equal(t, 1.0, result.SuccessRate)
}

func TestProcessBatchAllFailed(t *testing.T) {
	reports := reportsOf("only report text here")
	proc := &scriptedProcessor{failOn: map[string]error{"only report text here": errors.New("x")}}

	result, err := NewCoordinator(proc, Config{}).ProcessBatch(context.Background(), reports, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.BatchFailed, result.BatchStatus)
	assert.Equal(t, KindInternal, result.Errors[0].ErrorType)
	assert.Equal(t, 0.0, result.SuccessRate)
}

func TestProcessBatchTimeout(t *testing.T) {
	proc := &scriptedProcessor{delay: time.Second}
	c := NewCoordinator(proc, Config{ReportTimeout: 10 * time.Millisecond})

	result, err := c.ProcessBatch(context.Background(), reportsOf("slow report text here"), Options{})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, KindTimeout, result.Errors[0].ErrorType)
}

func TestProcessBatchOverrides(t *testing.T) {
	proc := &scriptedProcessor{}
	threshold := 0.5
	reports := reportsOf("first report text here", "second report text here")

	_, err := NewCoordinator(proc, Config{}).ProcessBatch(context.Background(), reports, Options{
		ConfidenceThreshold:   &threshold,
		DisableClustering:     true,
		DisableExplainability: true,
	})
	require.NoError(t, err)
	require.Len(t, proc.seen, 2)
	for _, r := range proc.seen {
		assert.Equal(t, 0.5, *r.ConfidenceThreshold)
		assert.False(t, r.IncludeClustering)
		assert.False(t, r.IncludeExplainability)
	}
	assert.True(t, reports[0].IncludeClustering)
}

func TestProcessBatchAggregatesWithoutIndividualResults(t *testing.T) {
	reports := reportsOf("alpha report text", "beta report text", "gamma report text")
	proc := &scriptedProcessor{severity: map[string]models.Severity{
		"beta report text":  models.SeveritySevere,
		"gamma report text": models.SeveritySevere,
	}}

	var mu sync.Mutex
	var observed []int
	result, err := NewCoordinator(proc, Config{}).ProcessBatch(context.Background(), reports, Options{
		SubmittedBy: "analyst",
		OnResult: func(index int, batchID string, _ *models.ReportResult) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, index)
			assert.True(t, strings.HasSuffix(batchID, "_analyst"))
		},
	})
	require.NoError(t, err)
	assert.Nil(t, result.IndividualResults)
	assert.Equal(t, map[models.Severity]int{models.SeverityMild: 1, models.SeveritySevere: 2}, result.SeverityDistribution)
	assert.Equal(t, models.AlertSummary{Warning: 2}, result.AlertSummary)
	assert.Equal(t, 2, result.BatchSummary.ReportsRequiringAction)
	assert.Equal(t, models.SeveritySevere, result.BatchSummary.MostCommonSeverity)
	assert.True(t, strings.HasPrefix(result.BatchID, "batch_"))
	assert.ElementsMatch(t, []int{0, 1, 2}, observed)
}

func TestProcessBatchReturnOnlyErrors(t *testing.T) {
	proc := &scriptedProcessor{}
	result, err := NewCoordinator(proc, Config{}).ProcessBatch(context.Background(), reportsOf("alpha report text"), Options{
		ReturnIndividualResults: true,
		ReturnOnlyErrors:        true,
	})
	require.NoError(t, err)
	assert.Nil(t, result.IndividualResults)
	assert.Equal(t, 1, result.SuccessfulReports)
}

func TestBatchID(t *testing.T) {
	c := NewCoordinator(&scriptedProcessor{}, Config{})
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	result, err := c.ProcessBatch(context.Background(), reportsOf("alpha report text"), Options{SubmittedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "batch_1700000000_admin", result.BatchID)
}

func TestProcessBatchWithRulePipeline(t *testing.T) {
	store := analysis.NewStaticRuleStore(analysis.MustCompile(analysis.DefaultRules()))
	p := pipeline.New(
		analysis.NewRuleBasedExtractor(store),
		analysis.NewRuleBasedClassifier(store),
		analysis.NewRuleBasedClusterAnalyzer(store),
		analysis.NewRuleBasedExplainer(),
		pipeline.Options{},
	)
	reports := reportsOf(
		"mild tiredness for one day",
		"Patient developed severe headache and high fever after vaccination",
		"severe rash and fever after the booster",
		"x y",
	)

	result, err := NewCoordinator(p, Config{}).ProcessBatch(context.Background(), reports, Options{ReturnIndividualResults: true})
	require.NoError(t, err)
	assert.Equal(t, 3, result.SuccessfulReports)
	assert.Equal(t, 1, result.FailedReports)
	assert.Equal(t, KindValidation, result.Errors[0].ErrorType)
	assert.Equal(t, map[models.Severity]int{models.SeverityMild: 1, models.SeveritySevere: 2}, result.SeverityDistribution)
	assert.Equal(t, 2, result.AlertSummary.Warning)
	require.NotEmpty(t, result.TopEntities)
	assert.Equal(t, "severe", result.TopEntities[0].Entity)
	assert.Equal(t, 2, result.TopEntities[0].Count)
}
