package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const MaxBatchNameLength = 100

var batchNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\s]+$`)

// BatchStatus is the overall outcome of a batch.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
)

// Priority of a batch submission. It is recorded but does not reorder work.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// BatchRequest is the body of a batch prediction call.
type BatchRequest struct {
	Reports                    []ReportRequest `json:"reports"`
	BatchName                  string          `json:"batch_name,omitempty"`
	ParallelProcessing         bool            `json:"parallel_processing"`
	FailFast                   bool            `json:"fail_fast"`
	ReturnIndividualResults    bool            `json:"return_individual_results"`
	ReturnOnlyErrors           bool            `json:"return_only_errors"`
	BatchConfidenceThreshold   *float64        `json:"batch_confidence_threshold,omitempty"`
	BatchDisableExplainability bool            `json:"batch_disable_explainability"`
	BatchDisableClustering     bool            `json:"batch_disable_clustering"`
	Priority                   Priority        `json:"priority,omitempty"`
}

// UnmarshalJSON defaults parallel processing and individual results to on.
func (b *BatchRequest) UnmarshalJSON(data []byte) error {
	type plain BatchRequest
	req := plain{ParallelProcessing: true, ReturnIndividualResults: true, Priority: PriorityNormal}
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	*b = BatchRequest(req)
	return nil
}

// Validate checks batch level fields. Per report validation happens when
// each report is processed so a bad report only fails itself.
func (b *BatchRequest) Validate() error {
	if len(b.Reports) == 0 {
		return &ValidationError{Field: "reports", Message: "batch must contain at least one report"}
	}
	if b.BatchName != "" {
		name := strings.TrimSpace(b.BatchName)
		if len(name) > MaxBatchNameLength {
			return &ValidationError{Field: "batch_name", Message: fmt.Sprintf("batch name must be at most %d characters", MaxBatchNameLength)}
		}
		if !batchNamePattern.MatchString(name) {
			return &ValidationError{Field: "batch_name", Message: "batch name can only contain letters, numbers, spaces, hyphens, and underscores"}
		}
	}
	switch b.Priority {
	case "", PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		return &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", b.Priority)}
	}
	if t := b.BatchConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
		return &ValidationError{Field: "batch_confidence_threshold", Message: "batch confidence threshold must be between 0 and 1"}
	}
	return nil
}

// BatchError describes a report that failed inside a batch.
type BatchError struct {
	ReportIndex int       `json:"report_index"`
	Error       string    `json:"error"`
	ErrorType   string    `json:"error_type"`
	Timestamp   time.Time `json:"timestamp"`
}

type EntityCount struct {
	Entity string      `json:"entity"`
	Label  EntityLabel `json:"label"`
	Count  int         `json:"count"`
}

type AlertSummary struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

type BatchSummary struct {
	BatchName              string   `json:"batch_name,omitempty"`
	Priority               Priority `json:"priority,omitempty"`
	SubmittedBy            string   `json:"submitted_by"`
	TotalSubmitted         int      `json:"total_submitted"`
	ReportsRequiringAction int      `json:"reports_requiring_attention"`
	MostCommonSeverity     Severity `json:"most_common_severity,omitempty"`
	FailFastTriggered      bool     `json:"fail_fast_triggered"`
}

// BatchResult is the aggregated outcome of a batch.
type BatchResult struct {
	BatchID               string           `json:"batch_id"`
	Timestamp             time.Time        `json:"timestamp"`
	BatchStatus           BatchStatus      `json:"batch_status"`
	IndividualResults     []*ReportResult  `json:"individual_results,omitempty"`
	BatchSummary          BatchSummary     `json:"batch_summary"`
	TotalReportsProcessed int              `json:"total_reports_processed"`
	SuccessfulReports     int              `json:"successful_reports"`
	FailedReports         int              `json:"failed_reports"`
	SuccessRate           float64          `json:"success_rate"`
	TotalProcessingTime   float64          `json:"total_processing_time"`
	AverageProcessingTime float64          `json:"average_processing_time"`
	SeverityDistribution  map[Severity]int `json:"severity_distribution"`
	AlertSummary          AlertSummary     `json:"alert_summary"`
	TopEntities           []EntityCount    `json:"top_entities"`
	Errors                []BatchError     `json:"errors"`
	Warnings              []string         `json:"warnings,omitempty"`
}
