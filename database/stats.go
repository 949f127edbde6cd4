package database

import (
	"context"
	"fmt"
	"time"

	"adeguard/models"
)

// Totals are whole-table counters shown on the dashboard and stats endpoint.
type Totals struct {
	Reports         int `json:"total_reports"`
	RequiringAction int `json:"reports_requiring_attention"`
	Batches         int `json:"total_batches"`
	ReportsLast24h  int `json:"reports_last_24h"`
	CriticalLast24h int `json:"life_threatening_last_24h"`
}

// GetSeverityCounts counts stored reports by severity.
func (d *Database) GetSeverityCounts(ctx context.Context) (map[models.Severity]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT severity, COUNT(*) FROM ade_reports GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to count severities: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Severity]int)
	for rows.Next() {
		var (
			severity string
			count    int
		)
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		s, _ := models.ParseSeverity(severity)
		counts[s] += count
	}
	return counts, rows.Err()
}

// GetTotals returns overall counters; the 24h window ends at now.
func (d *Database) GetTotals(ctx context.Context, now time.Time) (Totals, error) {
	var t Totals
	since := now.Add(-24 * time.Hour)

	err := d.db.QueryRowContext(ctx, `
	SELECT COUNT(*),
		COALESCE(SUM(requires_attention), 0),
		COALESCE(SUM(created_at >= ?), 0),
		COALESCE(SUM(created_at >= ? AND severity = 'life_threatening'), 0)
	FROM ade_reports`, since, since).Scan(&t.Reports, &t.RequiringAction, &t.ReportsLast24h, &t.CriticalLast24h)
	if err != nil {
		return t, fmt.Errorf("failed to count reports: %w", err)
	}

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ade_batches`).Scan(&t.Batches); err != nil {
		return t, fmt.Errorf("failed to count batches: %w", err)
	}
	return t, nil
}
