// Package service wires the analysis pipeline to persistence, messaging,
// caching and the live dashboard feed.
package service

import (
	"context"
	"fmt"
	"time"

	"adeguard/analysis"
	"adeguard/batch"
	"adeguard/cache"
	"adeguard/config"
	"adeguard/dashboard"
	"adeguard/database"
	"adeguard/metrics"
	"adeguard/models"
	"adeguard/pipeline"
	"adeguard/rabbitmq"

	"github.com/apex/log"
)

const sideEffectTimeout = 5 * time.Second

// Deps are the optional collaborators of a Service. Nil members disable the
// corresponding feature.
type Deps struct {
	DB        *database.Database
	Publisher *rabbitmq.Publisher
	Intake    *rabbitmq.Subscriber
	Cache     cache.Store
	Hub       *dashboard.Hub
}

// Service represents the ADE analysis service
type Service struct {
	cfg         *config.Config
	rules       *analysis.RuleStore
	pipeline    *pipeline.Pipeline
	processor   batch.Processor
	coordinator *batch.Coordinator

	db        *database.Database
	publisher *rabbitmq.Publisher
	events    *rabbitmq.EventSink
	intake    *rabbitmq.Subscriber
	cache     cache.Store
	hub       *dashboard.Hub

	started time.Time
	cancel  context.CancelFunc
}

// Open connects the optional backends named by cfg and builds a Service.
// Backends that cannot be reached are logged and left disabled.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	var deps Deps

	if cfg.EnablePersistence {
		db, err := database.NewDatabase(ctx, cfg)
		if err != nil {
			log.Warnf("Persistence disabled, failed to connect to database: %v", err)
		} else {
			deps.DB = db
		}
	}

	if cfg.RabbitMQEnabled {
		publisher, err := rabbitmq.NewPublisher(ctx, cfg.AMQPURL(), cfg.RabbitMQExchange)
		if err != nil {
			log.Warnf("Event publishing disabled, failed to initialize RabbitMQ publisher: %v", err)
		} else {
			deps.Publisher = publisher
		}
	}

	if cfg.IntakeEnabled {
		subscriber, err := rabbitmq.NewSubscriber(cfg.AMQPURL(), cfg.RabbitMQExchange, cfg.IntakeQueue, cfg.IntakeWorkers)
		if err != nil {
			log.Warnf("Report intake disabled, failed to initialize RabbitMQ subscriber: %v", err)
		} else {
			deps.Intake = subscriber
		}
	}

	if cfg.EnableCaching {
		deps.Cache = openCache(ctx, cfg)
	}

	deps.Hub = dashboard.NewHub()

	return New(cfg, deps)
}

func openCache(ctx context.Context, cfg *config.Config) cache.Store {
	if cfg.CacheBackend == "redis" {
		store, err := cache.NewRedisStore(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err == nil {
			return store
		}
		log.Warnf("Falling back to in-memory cache, redis unavailable: %v", err)
	}
	return cache.NewMemoryStore(cfg.CacheSize, cfg.CacheTTL)
}

// New builds the analysis stack over the rule tables named by cfg.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	rules, err := analysis.NewRuleStore(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if err := rules.OverrideNERThreshold(cfg.NERThreshold); err != nil {
		return nil, fmt.Errorf("invalid NER threshold: %w", err)
	}

	p := pipeline.New(
		analysis.NewRuleBasedExtractor(rules),
		analysis.NewRuleBasedClassifier(rules),
		analysis.NewRuleBasedClusterAnalyzer(rules),
		analysis.NewRuleBasedExplainer(),
		pipeline.Options{
			DisableClustering:     !cfg.EnableClustering,
			DisableExplainability: !cfg.EnableExplainability,
		},
	)

	var processor batch.Processor = p
	if deps.Cache != nil {
		processor = cache.NewCachingProcessor(p, deps.Cache)
	}

	s := &Service{
		cfg:       cfg,
		rules:     rules,
		pipeline:  p,
		processor: processor,
		coordinator: batch.NewCoordinator(processor, batch.Config{
			MaxBatchSize:  cfg.MaxBatchReports,
			Workers:       cfg.BatchWorkers,
			ReportTimeout: cfg.ReportTimeout,
		}),
		db:        deps.DB,
		publisher: deps.Publisher,
		intake:    deps.Intake,
		cache:     deps.Cache,
		hub:       deps.Hub,
		started:   time.Now(),
	}
	if deps.Publisher != nil {
		s.events = rabbitmq.NewEventSink(deps.Publisher, cfg.AnalysedReportRouting, cfg.BatchCompletedRouting)
	}

	log.WithFields(log.Fields{
		"rules_version":  rules.Get().Rules().Version,
		"persistence":    s.db != nil,
		"events":         s.events != nil,
		"intake":         s.intake != nil,
		"cache":          s.cacheName(),
		"max_batch_size": s.coordinator.MaxBatchSize(),
	}).Info("service.initialized")

	return s, nil
}

// Start runs background workers until Stop is called.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	if s.hub != nil {
		go s.hub.Run(ctx)
	}
	if s.intake != nil {
		s.intake.Start(map[string]rabbitmq.Handler{
			s.cfg.IntakeRouting: s.HandleSubmission,
		})
	}
	log.Info("service.started")
}

// Stop halts background workers and closes backend connections.
func (s *Service) Stop() {
	if s.intake != nil {
		if err := s.intake.Close(); err != nil {
			log.Warnf("Failed to close RabbitMQ subscriber: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Warnf("Failed to close RabbitMQ publisher: %v", err)
		}
	}
	if closer, ok := s.cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warnf("Failed to close cache: %v", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warnf("Failed to close database: %v", err)
		}
	}
	log.Info("service.stopped")
}

// AnalyzeReport runs one report through the pipeline and records the result.
func (s *Service) AnalyzeReport(ctx context.Context, report models.ReportRequest, submittedBy string) (*models.ReportResult, error) {
	result, err := s.processor.Process(ctx, report)
	if err != nil {
		metrics.ReportsProcessedTotal.WithLabelValues(batch.ErrorKind(err), "").Inc()
		return nil, err
	}
	s.record(ctx, "", submittedBy, report, result)
	return result, nil
}

// AnalyzeBatch runs a batch request. Successful reports that are part of the
// result are recorded once the batch finishes, followed by the batch itself.
func (s *Service) AnalyzeBatch(ctx context.Context, req *models.BatchRequest, submittedBy string) (*models.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	opts := batch.OptionsFromRequest(req, submittedBy)
	opts.OnResult = func(index int, batchID string, result *models.ReportResult) {
		s.record(ctx, batchID, submittedBy, req.Reports[index], result)
	}

	result, err := s.coordinator.ProcessBatch(ctx, req.Reports, opts)
	if err != nil {
		return nil, err
	}

	for _, e := range result.Errors {
		metrics.ReportsProcessedTotal.WithLabelValues(e.ErrorType, "").Inc()
	}
	metrics.BatchesTotal.WithLabelValues(string(result.BatchStatus)).Inc()
	metrics.BatchSize.Observe(float64(len(req.Reports)))
	metrics.BatchDurationSeconds.Observe(result.TotalProcessingTime)

	sctx, cancel := sideEffectContext(ctx)
	defer cancel()
	if s.db != nil {
		if err := s.db.SaveBatchResult(sctx, result); err != nil {
			log.WithFields(log.Fields{"batch_id": result.BatchID, "error": err.Error()}).Warn("service.batch_save_failed")
		}
	}
	event := rabbitmq.NewBatchCompletedEvent(result)
	s.events.BatchCompleted(sctx, event)
	s.broadcast(dashboard.TypeBatchCompleted, event)

	return result, nil
}

// record persists, publishes and broadcasts one analysed report. Failures are
// logged and never surface to the caller.
func (s *Service) record(ctx context.Context, batchID, submittedBy string, report models.ReportRequest, result *models.ReportResult) {
	severity := result.SeverityAnalysis.PredictedSeverity
	metrics.ReportsProcessedTotal.WithLabelValues("success", string(severity)).Inc()
	pm := result.ProcessingMetrics
	metrics.ObserveStages(pm.NERProcessingTime, pm.SeverityClassificationTime, pm.ClusteringTime, pm.ExplainabilityTime)
	for _, d := range result.StageErrors {
		metrics.OptionalStageFailuresTotal.WithLabelValues(d.Stage).Inc()
	}

	sctx, cancel := sideEffectContext(ctx)
	defer cancel()

	if s.db != nil {
		err := s.db.SaveReportResult(sctx, database.ReportRecord{
			BatchID:     batchID,
			SubmittedBy: submittedBy,
			Report:      report,
			Result:      result,
		})
		if err != nil {
			log.WithFields(log.Fields{"request_id": result.RequestID, "error": err.Error()}).Warn("service.report_save_failed")
		}
	}

	event := rabbitmq.NewAnalysedReportEvent(batchID, submittedBy, result)
	s.events.ReportAnalysed(sctx, event)
	s.broadcast(dashboard.TypeReportAnalysed, event)
}

func (s *Service) broadcast(msgType string, data interface{}) {
	if s.hub != nil {
		s.hub.Broadcast(msgType, data)
	}
}

// sideEffectContext outlives a canceled request so a finished analysis is
// still stored.
func sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

// ReloadRules re-reads the rules file and returns the active rules version.
func (s *Service) ReloadRules() (string, error) {
	if err := s.rules.Reload(); err != nil {
		log.WithFields(log.Fields{"path": s.rules.Path(), "error": err.Error()}).Error("service.rules_reload_failed")
		return "", err
	}
	version := s.rules.Get().Rules().Version
	log.WithFields(log.Fields{"path": s.rules.Path(), "rules_version": version}).Info("service.rules_reloaded")
	s.broadcast(dashboard.TypeRulesReloaded, map[string]string{"rules_version": version})
	return version, nil
}

// RulesVersion is the version of the active rule tables.
func (s *Service) RulesVersion() string {
	return s.rules.Get().Rules().Version
}

func (s *Service) Health(ctx context.Context) []pipeline.StageStatus {
	return s.pipeline.Health(ctx)
}

func (s *Service) Models() []pipeline.StageStatus {
	return s.pipeline.Models()
}

// DB returns the database, or nil when persistence is disabled.
func (s *Service) DB() *database.Database {
	return s.db
}

// Hub returns the dashboard hub, or nil when the live feed is disabled.
func (s *Service) Hub() *dashboard.Hub {
	return s.hub
}

func (s *Service) MaxBatchSize() int {
	return s.coordinator.MaxBatchSize()
}

func (s *Service) cacheName() string {
	if s.cache == nil {
		return "disabled"
	}
	return s.cache.Name()
}

// Uptime is the time since the service was built.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.started)
}
