package analysis

import (
	"context"
	"sort"
	"unicode/utf8"

	"adeguard/models"
)

// RuleBasedExtractor tags spans by whole-word keyword lookup. Overlapping
// matches keep the longest term, then the earliest rule. Span offsets count
// characters, not bytes.
type RuleBasedExtractor struct {
	store *RuleStore
}

func NewRuleBasedExtractor(store *RuleStore) *RuleBasedExtractor {
	return &RuleBasedExtractor{store: store}
}

func (e *RuleBasedExtractor) ModelName() string    { return "keyword-ner" }
func (e *RuleBasedExtractor) ModelVersion() string { return e.store.Get().Rules().Version }

// candidate offsets are byte offsets into the source text.
type candidate struct {
	span       models.EntitySpan
	start, end int
	priority   int
}

func (e *RuleBasedExtractor) ExtractEntities(ctx context.Context, text string) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStageError(StageExtraction, err)
	}
	rs := e.store.Get()

	var candidates []candidate
	priority := 0
	for _, rule := range rs.entities {
		for _, m := range rule.matchers {
			for _, loc := range m.re.FindAllStringIndex(text, -1) {
				candidates = append(candidates, candidate{
					span: models.EntitySpan{
						Text:       text[loc[0]:loc[1]],
						Label:      rule.label,
						Confidence: rule.confidence,
					},
					start:    loc[0],
					end:      loc[1],
					priority: priority,
				})
			}
			priority++
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		li := utf8.RuneCountInString(candidates[i].span.Text)
		lj := utf8.RuneCountInString(candidates[j].span.Text)
		if li != lj {
			return li > lj
		}
		return candidates[i].priority < candidates[j].priority
	})

	covered := make([]bool, len(text))
	var entities []models.EntitySpan
	for _, c := range candidates {
		if overlaps(covered, c.start, c.end) {
			continue
		}
		for i := c.start; i < c.end; i++ {
			covered[i] = true
		}
		span := c.span
		span.Start = utf8.RuneCountInString(text[:c.start])
		span.End = span.Start + utf8.RuneCountInString(span.Text)
		entities = append(entities, span)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Start < entities[j].Start })

	return &Extraction{Entities: entities, ConfidenceThreshold: rs.rules.NERThreshold}, nil
}

func overlaps(covered []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if covered[i] {
			return true
		}
	}
	return false
}
