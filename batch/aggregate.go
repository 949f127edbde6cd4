package batch

import (
	"fmt"
	"sort"
	"time"

	"adeguard/models"

	"github.com/shopspring/decimal"
)

const topEntityLimit = 10

func (c *Coordinator) assemble(batchID string, reports []models.ReportRequest, outcomes []outcome, opts Options, elapsed time.Duration, failFastTriggered bool) *models.BatchResult {
	var (
		results  []*models.ReportResult
		errs     = []models.BatchError{}
		warnings []string
	)
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		if o.err != nil {
			errs = append(errs, models.BatchError{
				ReportIndex: i,
				Error:       o.err.Error(),
				ErrorType:   ErrorKind(o.err),
				Timestamp:   o.at,
			})
			continue
		}
		results = append(results, o.result)
		for _, d := range o.result.StageErrors {
			warnings = append(warnings, fmt.Sprintf("report %d: %s stage failed: %s", i, d.Stage, d.Error))
		}
	}

	total := len(reports)
	successful := len(results)
	failed := len(errs)
	distribution := SeverityDistribution(results)

	out := &models.BatchResult{
		BatchID:     batchID,
		Timestamp:   c.now().UTC(),
		BatchStatus: Status(successful, failed),
		BatchSummary: models.BatchSummary{
			BatchName:              opts.BatchName,
			Priority:               opts.Priority,
			SubmittedBy:            opts.SubmittedBy,
			TotalSubmitted:         total,
			ReportsRequiringAction: requiringAttention(results),
			MostCommonSeverity:     mostCommon(distribution),
			FailFastTriggered:      failFastTriggered,
		},
		TotalReportsProcessed: total,
		SuccessfulReports:     successful,
		FailedReports:         failed,
		SuccessRate:           float64(successful) / float64(total),
		TotalProcessingTime:   seconds(decimal.NewFromFloat(elapsed.Seconds())),
		AverageProcessingTime: seconds(decimal.NewFromFloat(elapsed.Seconds()).Div(decimal.NewFromInt(int64(total)))),
		SeverityDistribution:  distribution,
		AlertSummary:          SummarizeAlerts(results),
		TopEntities:           TopEntities(results, topEntityLimit),
		Errors:                errs,
		Warnings:              warnings,
	}
	if opts.ReturnIndividualResults && !opts.ReturnOnlyErrors {
		out.IndividualResults = results
	}
	return out
}

func seconds(d decimal.Decimal) float64 {
	return d.Round(4).InexactFloat64()
}

// Status derives the batch status from its counts.
func Status(successful, failed int) models.BatchStatus {
	switch {
	case failed == 0:
		return models.BatchCompleted
	case successful > 0:
		return models.BatchPartial
	default:
		return models.BatchFailed
	}
}

// SeverityDistribution counts predicted severities.
func SeverityDistribution(results []*models.ReportResult) map[models.Severity]int {
	dist := make(map[models.Severity]int)
	for _, r := range results {
		dist[r.SeverityAnalysis.PredictedSeverity]++
	}
	return dist
}

// SummarizeAlerts counts alerts by level.
func SummarizeAlerts(results []*models.ReportResult) models.AlertSummary {
	var s models.AlertSummary
	for _, r := range results {
		for _, a := range r.Alerts {
			switch a.Level {
			case models.AlertCritical:
				s.Critical++
			case models.AlertWarning:
				s.Warning++
			default:
				s.Info++
			}
		}
	}
	return s
}

type entityKey struct {
	label models.EntityLabel
	text  string
}

// TopEntities ranks (label, text) pairs by count, most frequent first. Ties
// keep the order in which pairs were first seen.
func TopEntities(results []*models.ReportResult, limit int) []models.EntityCount {
	counts := make(map[entityKey]int)
	var order []entityKey
	for _, r := range results {
		for _, e := range r.ExtractedEntities {
			k := entityKey{label: e.Label, text: e.Text}
			if _, ok := counts[k]; !ok {
				order = append(order, k)
			}
			counts[k]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}

	top := make([]models.EntityCount, 0, len(order))
	for _, k := range order {
		top = append(top, models.EntityCount{Entity: k.text, Label: k.label, Count: counts[k]})
	}
	return top
}

func requiringAttention(results []*models.ReportResult) int {
	n := 0
	for _, r := range results {
		if r.Summary.RequiresAttention {
			n++
		}
	}
	return n
}

func mostCommon(dist map[models.Severity]int) models.Severity {
	var (
		best  models.Severity
		count int
	)
	for _, s := range append(append([]models.Severity{}, models.DefinedSeverities...), models.SeverityUnknown) {
		if dist[s] > count {
			best, count = s, dist[s]
		}
	}
	return best
}
