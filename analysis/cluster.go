package analysis

import (
	"context"
	"math"

	"adeguard/models"
)

const defaultClusterSimilarity = 0.75

// RuleBasedClusterAnalyzer assigns reports to keyword-selected clusters and
// reports the composition of each cluster's reference cases.
type RuleBasedClusterAnalyzer struct {
	store *RuleStore
}

func NewRuleBasedClusterAnalyzer(store *RuleStore) *RuleBasedClusterAnalyzer {
	return &RuleBasedClusterAnalyzer{store: store}
}

func (a *RuleBasedClusterAnalyzer) ModelName() string    { return "keyword-clustering" }
func (a *RuleBasedClusterAnalyzer) ModelVersion() string { return a.store.Get().Rules().Version }

func (a *RuleBasedClusterAnalyzer) AnalyzeCluster(ctx context.Context, text string, entities []models.EntitySpan, age *int) (*models.ClusterResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStageError(StageClustering, err)
	}
	rs := a.store.Get()

	selected := rs.cluster0
	similarity := defaultClusterSimilarity
	for _, c := range rs.clusters {
		if hits := countHits(c.matchers, text); hits > 0 {
			selected = c
			similarity = math.Min(0.95, 0.6+0.1*float64(hits))
			break
		}
	}

	rule := selected.rule
	ages := make(map[string]int)
	severities := make(map[string]int)
	for _, rc := range rule.ReferenceCases {
		if rc.AgeGroup != "" {
			ages[rc.AgeGroup]++
		}
		if rc.Severity != "" {
			severities[rc.Severity]++
		}
	}

	return &models.ClusterResult{
		ClusterID:            rule.ID,
		ClusterLabel:         rule.Label,
		ClusterSize:          len(rule.ReferenceCases),
		SimilarityScore:      similarity,
		AgeGroupDistribution: ages,
		SeverityDistribution: severities,
		CommonSymptoms:       append([]string(nil), rule.CommonSymptoms...),
	}, nil
}

func countHits(matchers []matcher, text string) int {
	hits := 0
	for _, m := range matchers {
		if m.re.MatchString(text) {
			hits++
		}
	}
	return hits
}
