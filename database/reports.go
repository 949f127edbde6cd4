package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"adeguard/models"
)

// ReportRecord is a processed report ready to be stored.
type ReportRecord struct {
	BatchID     string
	SubmittedBy string
	Report      models.ReportRequest
	Result      *models.ReportResult
}

// StoredReport is the listing view of a stored report.
type StoredReport struct {
	RequestID         string          `json:"request_id"`
	BatchID           string          `json:"batch_id,omitempty"`
	SubmittedBy       string          `json:"submitted_by"`
	SymptomText       string          `json:"symptom_text"`
	PatientAge        *int            `json:"patient_age,omitempty"`
	Severity          models.Severity `json:"severity"`
	Confidence        float64         `json:"confidence"`
	RequiresAttention bool            `json:"requires_attention"`
	TotalEntities     int             `json:"total_entities"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ReportFilter narrows ListReports. Zero values mean no restriction.
type ReportFilter struct {
	Skip      int
	Limit     int
	Severity  models.Severity
	StartDate *time.Time
	EndDate   *time.Time
}

// SaveReportResult stores a report and its full analysis.
func (d *Database) SaveReportResult(ctx context.Context, rec ReportRecord) error {
	body, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal report result: %w", err)
	}

	var batchID sql.NullString
	if rec.BatchID != "" {
		batchID = sql.NullString{String: rec.BatchID, Valid: true}
	}
	var age sql.NullInt64
	if rec.Report.PatientAge != nil {
		age = sql.NullInt64{Int64: int64(*rec.Report.PatientAge), Valid: true}
	}

	query := `
	INSERT INTO ade_reports (
		request_id, batch_id, submitted_by, symptom_text, patient_age, vaccine_name,
		severity, confidence, requires_attention, total_entities, result_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = d.db.ExecContext(ctx, query,
		rec.Result.RequestID,
		batchID,
		rec.SubmittedBy,
		rec.Report.SymptomText,
		age,
		rec.Report.VaccineName,
		string(rec.Result.SeverityAnalysis.PredictedSeverity),
		rec.Result.SeverityAnalysis.Confidence,
		rec.Result.Summary.RequiresAttention,
		rec.Result.Summary.TotalEntities,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", rec.Result.RequestID, err)
	}
	return nil
}

// GetReportResult returns the stored analysis of a report.
func (d *Database) GetReportResult(ctx context.Context, requestID string) (*models.ReportResult, error) {
	var body []byte
	err := d.db.QueryRowContext(ctx, `SELECT result_json FROM ade_reports WHERE request_id = ?`, requestID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", requestID, err)
	}

	var result models.ReportResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", requestID, err)
	}
	return &result, nil
}

// ListReports returns stored reports, newest first.
func (d *Database) ListReports(ctx context.Context, f ReportFilter) ([]StoredReport, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if f.StartDate != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		where = append(where, "created_at <= ?")
		args = append(args, *f.EndDate)
	}

	query := `
	SELECT request_id, COALESCE(batch_id, ''), submitted_by, symptom_text, patient_age,
		severity, confidence, requires_attention, total_entities, created_at
	FROM ade_reports`
	if len(where) > 0 {
		query += "\n\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\tORDER BY created_at DESC\n\tLIMIT ? OFFSET ?"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Skip)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []StoredReport{}
	for rows.Next() {
		var (
			r        StoredReport
			age      sql.NullInt64
			severity string
		)
		if err := rows.Scan(&r.RequestID, &r.BatchID, &r.SubmittedBy, &r.SymptomText, &age,
			&severity, &r.Confidence, &r.RequiresAttention, &r.TotalEntities, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if age.Valid {
			v := int(age.Int64)
			r.PatientAge = &v
		}
		r.Severity, _ = models.ParseSeverity(severity)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}
