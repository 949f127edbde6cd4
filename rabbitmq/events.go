package rabbitmq

import (
	"context"
	"time"

	"adeguard/models"

	"github.com/apex/log"
)

// AnalysedReportEvent is published for every report that completes analysis.
type AnalysedReportEvent struct {
	RequestID         string          `json:"request_id"`
	BatchID           string          `json:"batch_id,omitempty"`
	SubmittedBy       string          `json:"submitted_by"`
	Severity          models.Severity `json:"severity"`
	Confidence        float64         `json:"confidence"`
	RequiresAttention bool            `json:"requires_attention"`
	ADEEntities       []string        `json:"ade_entities"`
	Alerts            []models.Alert  `json:"alerts"`
	Timestamp         time.Time       `json:"timestamp"`
}

// BatchCompletedEvent is published once per finished batch.
type BatchCompletedEvent struct {
	BatchID              string                  `json:"batch_id"`
	BatchName            string                  `json:"batch_name,omitempty"`
	Status               models.BatchStatus      `json:"status"`
	SuccessfulReports    int                     `json:"successful_reports"`
	FailedReports        int                     `json:"failed_reports"`
	SeverityDistribution map[models.Severity]int `json:"severity_distribution"`
	AlertSummary         models.AlertSummary     `json:"alert_summary"`
	Timestamp            time.Time               `json:"timestamp"`
}

func NewAnalysedReportEvent(batchID, submittedBy string, r *models.ReportResult) AnalysedReportEvent {
	return AnalysedReportEvent{
		RequestID:         r.RequestID,
		BatchID:           batchID,
		SubmittedBy:       submittedBy,
		Severity:          r.SeverityAnalysis.PredictedSeverity,
		Confidence:        r.SeverityAnalysis.Confidence,
		RequiresAttention: r.Summary.RequiresAttention,
		ADEEntities:       r.Summary.ADEEntitiesFound,
		Alerts:            r.Alerts,
		Timestamp:         r.Timestamp,
	}
}

func NewBatchCompletedEvent(b *models.BatchResult) BatchCompletedEvent {
	return BatchCompletedEvent{
		BatchID:              b.BatchID,
		BatchName:            b.BatchSummary.BatchName,
		Status:               b.BatchStatus,
		SuccessfulReports:    b.SuccessfulReports,
		FailedReports:        b.FailedReports,
		SeverityDistribution: b.SeverityDistribution,
		AlertSummary:         b.AlertSummary,
		Timestamp:            b.Timestamp,
	}
}

// EventSink publishes analysis events. A nil *EventSink or one without a
// publisher drops events silently.
type EventSink struct {
	publisher *Publisher
	reportKey string
	batchKey  string
}

func NewEventSink(p *Publisher, reportRoutingKey, batchRoutingKey string) *EventSink {
	return &EventSink{publisher: p, reportKey: reportRoutingKey, batchKey: batchRoutingKey}
}

func (s *EventSink) ReportAnalysed(ctx context.Context, e AnalysedReportEvent) {
	if s == nil || s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.reportKey, e); err != nil {
		log.WithFields(log.Fields{"request_id": e.RequestID, "error": err.Error()}).Warn("events.report_publish_failed")
	}
}

func (s *EventSink) BatchCompleted(ctx context.Context, e BatchCompletedEvent) {
	if s == nil || s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.batchKey, e); err != nil {
		log.WithFields(log.Fields{"batch_id": e.BatchID, "error": err.Error()}).Warn("events.batch_publish_failed")
	}
}

// Connected reports whether events are being delivered.
func (s *EventSink) Connected() bool {
	return s != nil && s.publisher != nil && s.publisher.IsConnected()
}
