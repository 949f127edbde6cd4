package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// ReportsProcessedTotal counts single reports by outcome and severity.
	ReportsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adeguard",
		Subsystem: "pipeline",
		Name:      "reports_processed_total",
		Help:      "Total number of reports analysed, labeled by result and predicted severity.",
	}, []string{"result", "severity"})

	// StageDurationSeconds is the time spent in each analysis stage.
	StageDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adeguard",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each analysis stage.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"stage"})

	// OptionalStageFailuresTotal counts clustering and explanation failures that did not fail the report.
	OptionalStageFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adeguard",
		Subsystem: "pipeline",
		Name:      "optional_stage_failures_total",
		Help:      "Total number of optional stage failures, labeled by stage.",
	}, []string{"stage"})

	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adeguard",
		Subsystem: "batch",
		Name:      "batches_total",
		Help:      "Total number of batches, labeled by final status.",
	}, []string{"status"})

	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "adeguard",
		Subsystem: "batch",
		Name:      "size_reports",
		Help:      "Number of reports submitted per batch.",
		Buckets:   []float64{1, 5, 10, 20, 30, 40, 50},
	})

	BatchDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "adeguard",
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "End-to-end batch processing time.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// CacheRequestsTotal counts result cache lookups by outcome (hit, miss).
	CacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adeguard",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Total number of result cache lookups, labeled by outcome.",
	}, []string{"outcome"})

	// EventsPublishedTotal counts RabbitMQ publishes by routing key and result.
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adeguard",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of events published to RabbitMQ, labeled by routing key and result.",
	}, []string{"routing_key", "result"})

	// DashboardClients is the number of connected live feed clients.
	DashboardClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adeguard",
		Subsystem: "dashboard",
		Name:      "websocket_clients",
		Help:      "Number of connected dashboard websocket clients.",
	})

	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adeguard",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Total number of requests rejected by the rate limiter, labeled by limiter.",
	}, []string{"limiter"})

	// IntakeMessagesTotal counts consumed intake messages by outcome
	// (success, permanent_error, transient_error, panic).
	IntakeMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adeguard",
		Subsystem: "intake",
		Name:      "messages_total",
		Help:      "Total number of intake messages consumed, labeled by outcome.",
	}, []string{"outcome"})

	IntakeInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adeguard",
		Subsystem: "intake",
		Name:      "in_flight",
		Help:      "Number of intake messages currently being processed.",
	})

	IntakeConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "adeguard",
		Subsystem: "intake",
		Name:      "connected",
		Help:      "1 when the intake consumer is connected to RabbitMQ.",
	})
)

// Register registers service metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ReportsProcessedTotal,
			StageDurationSeconds,
			OptionalStageFailuresTotal,
			BatchesTotal,
			BatchSize,
			BatchDurationSeconds,
			CacheRequestsTotal,
			EventsPublishedTotal,
			DashboardClients,
			RateLimitedTotal,
			IntakeMessagesTotal,
			IntakeInFlight,
			IntakeConnected,
		)
	})
}

// ObserveStages records the per-stage durations of a processed report.
func ObserveStages(ner, classification, clustering, explanation float64) {
	StageDurationSeconds.WithLabelValues("extraction").Observe(ner)
	StageDurationSeconds.WithLabelValues("classification").Observe(classification)
	if clustering > 0 {
		StageDurationSeconds.WithLabelValues("clustering").Observe(clustering)
	}
	if explanation > 0 {
		StageDurationSeconds.WithLabelValues("explanation").Observe(explanation)
	}
}
