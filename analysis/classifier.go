package analysis

import (
	"context"

	"adeguard/models"
)

// RuleBasedClassifier assigns the severity of the first rule whose keywords
// appear in the text, falling back to the default rule.
type RuleBasedClassifier struct {
	store *RuleStore
}

func NewRuleBasedClassifier(store *RuleStore) *RuleBasedClassifier {
	return &RuleBasedClassifier{store: store}
}

func (c *RuleBasedClassifier) ModelName() string    { return "keyword-severity" }
func (c *RuleBasedClassifier) ModelVersion() string { return c.store.Get().Rules().Version }

func (c *RuleBasedClassifier) ClassifySeverity(ctx context.Context, text string, entities []models.EntitySpan, age *int) (*models.SeverityResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStageError(StageClassification, err)
	}
	rs := c.store.Get()

	rule := rs.fallback
	for _, r := range rs.severity {
		if matchesAny(r.matchers, text) {
			rule = r
			break
		}
	}

	probs := make(map[models.Severity]float64, len(rule.probabilities))
	for k, v := range rule.probabilities {
		probs[k] = v
	}

	return &models.SeverityResult{
		PredictedSeverity:     rule.severity,
		Confidence:            probs[rule.severity],
		SeverityProbabilities: probs,
		PredictionMethod:      "rule_based",
		RiskFactors:           riskFactors(entities, age),
	}, nil
}

func matchesAny(matchers []matcher, text string) bool {
	for _, m := range matchers {
		if m.re.MatchString(text) {
			return true
		}
	}
	return false
}

func riskFactors(entities []models.EntitySpan, age *int) []string {
	var factors []string
	if age != nil {
		switch {
		case *age >= 65:
			factors = append(factors, "elderly patient")
		case *age < 12:
			factors = append(factors, "pediatric patient")
		}
	}
	ade := 0
	for _, e := range entities {
		if e.Label == models.LabelADE {
			ade++
		}
	}
	if ade >= 3 {
		factors = append(factors, "multiple adverse events")
	}
	return factors
}
