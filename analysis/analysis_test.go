package analysis

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"adeguard/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultStore() *RuleStore {
	return NewStaticRuleStore(MustCompile(DefaultRules()))
}

func intPtr(v int) *int { return &v }

func TestExtractEntities(t *testing.T) {
	ex := NewRuleBasedExtractor(defaultStore())
	text := "Patient developed severe headache and high fever after vaccination"

	got, err := ex.ExtractEntities(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.ConfidenceThreshold)

	var texts []string
	for _, e := range got.Entities {
		texts = append(texts, e.Text)
		assert.Equal(t, e.Text, text[e.Start:e.End])
		assert.True(t, e.Start < e.End)
	}
	assert.Equal(t, []string{"severe", "headache", "high fever", "vaccination"}, texts)

	labels := map[string]models.EntityLabel{}
	for _, e := range got.Entities {
		labels[e.Text] = e.Label
	}
	assert.Equal(t, models.LabelModifier, labels["severe"])
	assert.Equal(t, models.LabelADE, labels["high fever"])
	assert.Equal(t, models.LabelDrug, labels["vaccination"])
}

func TestExtractEntitiesCharacterOffsets(t *testing.T) {
	ex := NewRuleBasedExtractor(defaultStore())
	text := "Pätiënt développé fever après vaccination"
	runes := []rune(text)

	got, err := ex.ExtractEntities(context.Background(), text)
	require.NoError(t, err)

	spans := map[string]models.EntitySpan{}
	for _, e := range got.Entities {
		require.True(t, e.Start >= 0 && e.Start < e.End && e.End <= len(runes), e.Text)
		assert.Equal(t, e.Text, string(runes[e.Start:e.End]))
		spans[e.Text] = e
	}
	require.Contains(t, spans, "fever")
	require.Contains(t, spans, "vaccination")
	assert.Equal(t, 18, spans["fever"].Start)
	assert.Equal(t, 30, spans["vaccination"].Start)
	assert.Equal(t, 41, spans["vaccination"].End)
}

func TestExtractEntitiesCaseInsensitiveWholeWord(t *testing.T) {
	ex := NewRuleBasedExtractor(defaultStore())

	got, err := ex.ExtractEntities(context.Background(), "Feverish patient but no FEVER reported")
	require.NoError(t, err)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "FEVER", got.Entities[0].Text)
	assert.Equal(t, 24, got.Entities[0].Start)
}

func TestExtractEntitiesCanceled(t *testing.T) {
	ex := NewRuleBasedExtractor(defaultStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.ExtractEntities(ctx, "headache after the vaccine")
	require.Error(t, err)
	stage, ok := StageOf(err)
	assert.True(t, ok)
	assert.Equal(t, StageExtraction, stage)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestClassifySeverity(t *testing.T) {
	cl := NewRuleBasedClassifier(defaultStore())

	testCases := []struct {
		name       string
		text       string
		expected   models.Severity
		confidence float64
	}{
		{"life threatening", "patient went into anaphylaxis within minutes", models.SeverityLifeThreatening, 0.9},
		{"severe", "Patient developed severe headache and high fever after vaccination", models.SeveritySevere, 0.8},
		{"hospitalized", "she was hospitalized for two days", models.SeveritySevere, 0.8},
		{"moderate", "fever and chills overnight", models.SeverityModerate, 0.7},
		{"mild", "mild tiredness for one day", models.SeverityMild, 0.75},
		{"word boundary", "changed diet after the shot", models.SeverityMild, 0.75},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := cl.ClassifySeverity(context.Background(), tc.text, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got.PredictedSeverity)
			assert.InDelta(t, tc.confidence, got.Confidence, 1e-9)

			require.Len(t, got.SeverityProbabilities, len(models.DefinedSeverities))
			sum := 0.0
			for _, label := range models.DefinedSeverities {
				p, ok := got.SeverityProbabilities[label]
				assert.True(t, ok, "missing %s", label)
				sum += p
			}
			assert.True(t, math.Abs(sum-1) <= 1e-6, "probabilities sum to %v", sum)
		})
	}
}

func TestClassifySeverityRiskFactors(t *testing.T) {
	cl := NewRuleBasedClassifier(defaultStore())
	entities := []models.EntitySpan{
		{Text: "rash", Label: models.LabelADE},
		{Text: "fever", Label: models.LabelADE},
		{Text: "nausea", Label: models.LabelADE},
	}

	got, err := cl.ClassifySeverity(context.Background(), "rash fever nausea", entities, intPtr(70))
	require.NoError(t, err)
	assert.Equal(t, []string{"elderly patient", "multiple adverse events"}, got.RiskFactors)
}

func TestAnalyzeCluster(t *testing.T) {
	an := NewRuleBasedClusterAnalyzer(defaultStore())

	got, err := an.AnalyzeCluster(context.Background(), "severe reaction, hospitalized overnight", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ClusterID)
	assert.Equal(t, "Severe systemic reactions", got.ClusterLabel)
	assert.Equal(t, 3, got.ClusterSize)
	assert.InDelta(t, 0.8, got.SimilarityScore, 1e-9)
	assert.Equal(t, map[string]int{"elderly": 2, "adult": 1}, got.AgeGroupDistribution)

	got, err = an.AnalyzeCluster(context.Background(), "sore arm for a day", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ClusterID)
	assert.Equal(t, defaultClusterSimilarity, got.SimilarityScore)
	assert.Equal(t, 4, got.ClusterSize)
}

func TestGenerateExplanation(t *testing.T) {
	x := NewRuleBasedExplainer()
	entities := []models.EntitySpan{
		{Text: "severe", Label: models.LabelModifier},
		{Text: "headache", Label: models.LabelADE},
		{Text: "high fever", Label: models.LabelADE},
		{Text: "vaccination", Label: models.LabelDrug},
		{Text: "Headache", Label: models.LabelADE},
	}

	severe := &models.SeverityResult{PredictedSeverity: models.SeveritySevere, Confidence: 0.8}
	got, err := x.GenerateExplanation(context.Background(), "", severe, entities)
	require.NoError(t, err)
	assert.Equal(t, "Severity classified as severe due to presence of critical terms: headache, high fever, vaccination", got.ExplanationText)
	assert.Equal(t, []string{"headache", "high fever", "vaccination"}, got.KeyTerms)
	require.Len(t, got.TopFeatures, 3)
	assert.Equal(t, 0.8, got.TopFeatures[0].Importance)
	assert.Equal(t, 0.6, got.TopFeatures[2].Importance)
	assert.Equal(t, 0.5, got.LIMEExplanation[2].Importance)
	assert.Equal(t, 0.25, got.BaseValue)
	assert.Equal(t, 0.8, got.PredictionConfidence)
	assert.Equal(t, 0.8, got.PredictionProbability)

	got, err = x.GenerateExplanation(context.Background(), "", &models.SeverityResult{PredictedSeverity: models.SeverityMild, Confidence: 0.75}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Severity classified as mild based on symptom indicators and context", got.ExplanationText)
	assert.Empty(t, got.TopFeatures)
	assert.Equal(t, 0.75, got.PredictionConfidence)

	got, err = x.GenerateExplanation(context.Background(), "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Severity classified as unknown based on symptom indicators and context", got.ExplanationText)
	assert.Zero(t, got.PredictionConfidence)
}

func TestParseRules(t *testing.T) {
	data := []byte(`
version: custom-v2
ner_threshold: 0.5
entities:
  - label: ADE
    confidence: 0.6
    terms: [sniffles]
`)
	rules, err := ParseRules(data)
	require.NoError(t, err)
	assert.Equal(t, "custom-v2", rules.Version)
	require.Len(t, rules.Entities, 1)
	assert.NotEmpty(t, rules.Severity)

	_, err = ParseRules([]byte("entities:\n  - label: SYMPTOM\n    confidence: 0.5\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("default_severity:\n  severity: mild\n  probabilities: {mild: 0, moderate: 0, severe: 0, life_threatening: 0}\n"))
	assert.Error(t, err)
}

func TestRuleStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: first\n"), 0o600))

	store, err := NewRuleStore(path)
	require.NoError(t, err)
	assert.Equal(t, "first", store.Get().Rules().Version)

	require.NoError(t, os.WriteFile(path, []byte("version: second\n"), 0o600))
	require.NoError(t, store.Reload())
	assert.Equal(t, "second", store.Get().Rules().Version)

	require.NoError(t, os.WriteFile(path, []byte("ner_threshold: 7\n"), 0o600))
	assert.Error(t, store.Reload())
	assert.Equal(t, "second", store.Get().Rules().Version)
}

func TestNormalizeProbabilities(t *testing.T) {
	got := normalizeProbabilities(map[models.Severity]float64{models.SeverityMild: 2, models.SeveritySevere: 1})
	assert.InDelta(t, 2.0/3, got[models.SeverityMild], 1e-9)
	assert.Equal(t, 0.0, got[models.SeverityLifeThreatening])
	sum := 0.0
	for _, v := range got {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-9)
}

func TestRuleStoreOverrideNERThreshold(t *testing.T) {
	store, err := NewRuleStore("")
	require.NoError(t, err)
	require.NoError(t, store.OverrideNERThreshold(0.5))

	got, err := NewRuleBasedExtractor(store).ExtractEntities(context.Background(), "tiredness after the vaccine")
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.ConfidenceThreshold)

	assert.Error(t, store.OverrideNERThreshold(2))
	assert.Equal(t, 0.5, store.Get().Rules().NERThreshold)
}
