package database

import (
	"context"
	"encoding/json"
	"fmt"

	"adeguard/models"
)

type batchSummaryRow struct {
	Summary              models.BatchSummary     `json:"batch_summary"`
	SeverityDistribution map[models.Severity]int `json:"severity_distribution"`
	AlertSummary         models.AlertSummary     `json:"alert_summary"`
	TopEntities          []models.EntityCount    `json:"top_entities"`
	Errors               []models.BatchError     `json:"errors"`
}

// SaveBatchResult stores the aggregate of a batch. Individual reports are
// stored separately by SaveReportResult.
func (d *Database) SaveBatchResult(ctx context.Context, result *models.BatchResult) error {
	body, err := json.Marshal(batchSummaryRow{
		Summary:              result.BatchSummary,
		SeverityDistribution: result.SeverityDistribution,
		AlertSummary:         result.AlertSummary,
		TopEntities:          result.TopEntities,
		Errors:               result.Errors,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal batch summary: %w", err)
	}

	query := `
	INSERT INTO ade_batches (
		batch_id, batch_name, submitted_by, status, total_reports,
		successful_reports, failed_reports, success_rate, total_processing_time, summary_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		status = VALUES(status),
		successful_reports = VALUES(successful_reports),
		failed_reports = VALUES(failed_reports),
		success_rate = VALUES(success_rate),
		total_processing_time = VALUES(total_processing_time),
		summary_json = VALUES(summary_json)`

	_, err = d.db.ExecContext(ctx, query,
		result.BatchID,
		result.BatchSummary.BatchName,
		result.BatchSummary.SubmittedBy,
		string(result.BatchStatus),
		result.TotalReportsProcessed,
		result.SuccessfulReports,
		result.FailedReports,
		result.SuccessRate,
		result.TotalProcessingTime,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to save batch %s: %w", result.BatchID, err)
	}
	return nil
}
