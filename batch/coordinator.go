// Package batch runs the report pipeline over a bounded batch of reports and
// aggregates the outcome.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"adeguard/models"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxBatchSize  = 50
	DefaultWorkers       = 4
	DefaultReportTimeout = 10 * time.Second

	progressEvery = 10
)

// Processor analyses a single report. *pipeline.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, report models.ReportRequest) (*models.ReportResult, error)
}

// Config bounds the work a Coordinator does per batch.
type Config struct {
	MaxBatchSize  int
	Workers       int
	ReportTimeout time.Duration
}

// Options control a single ProcessBatch call.
type Options struct {
	BatchName   string
	SubmittedBy string
	Priority    models.Priority

	Sequential              bool
	FailFast                bool
	ReturnIndividualResults bool
	ReturnOnlyErrors        bool

	// Overrides applied to every report; they win over per-report values.
	ConfidenceThreshold   *float64
	DisableExplainability bool
	DisableClustering     bool

	// OnResult is called once the batch finishes, in input order, for every
	// successful report that is part of the result.
	OnResult func(index int, batchID string, result *models.ReportResult)
}

// OptionsFromRequest maps a batch request body onto Options.
func OptionsFromRequest(req *models.BatchRequest, submittedBy string) Options {
	return Options{
		BatchName:               req.BatchName,
		SubmittedBy:             submittedBy,
		Priority:                req.Priority,
		Sequential:              !req.ParallelProcessing,
		FailFast:                req.FailFast,
		ReturnIndividualResults: req.ReturnIndividualResults,
		ReturnOnlyErrors:        req.ReturnOnlyErrors,
		ConfidenceThreshold:     req.BatchConfidenceThreshold,
		DisableExplainability:   req.BatchDisableExplainability,
		DisableClustering:       req.BatchDisableClustering,
	}
}

// Coordinator holds no state across calls; concurrent batches are independent.
type Coordinator struct {
	processor Processor
	cfg       Config
	now       func() time.Time
}

func NewCoordinator(processor Processor, cfg Config) *Coordinator {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = DefaultReportTimeout
	}
	return &Coordinator{processor: processor, cfg: cfg, now: time.Now}
}

// MaxBatchSize is the largest batch ProcessBatch accepts.
func (c *Coordinator) MaxBatchSize() int {
	return c.cfg.MaxBatchSize
}

type outcome struct {
	result *models.ReportResult
	err    error
	at     time.Time
	done   bool
}

// ProcessBatch analyses reports and aggregates the results. Output order
// follows input order. With FailFast the lowest failing index ends the batch:
// reports after it are neither reported nor counted, even when a worker had
// already finished them.
func (c *Coordinator) ProcessBatch(ctx context.Context, reports []models.ReportRequest, opts Options) (*models.BatchResult, error) {
	if len(reports) == 0 {
		return nil, &models.ValidationError{Field: "reports", Message: "batch must contain at least one report"}
	}
	if len(reports) > c.cfg.MaxBatchSize {
		return nil, &BatchTooLargeError{Size: len(reports), Limit: c.cfg.MaxBatchSize}
	}

	start := time.Now()
	submitter := opts.SubmittedBy
	if submitter == "" {
		submitter = "anonymous"
	}
	batchID := fmt.Sprintf("batch_%d_%s", c.now().Unix(), submitter)
	logger := log.WithFields(log.Fields{
		"batch_id":   batchID,
		"batch_name": opts.BatchName,
		"reports":    len(reports),
		"fail_fast":  opts.FailFast,
	})
	logger.Info("batch.started")

	workers := c.cfg.Workers
	if opts.Sequential {
		workers = 1
	}

	outcomes := make([]outcome, len(reports))
	var (
		stopped   atomic.Bool
		completed atomic.Int32
		failedAt  atomic.Int64
	)
	failedAt.Store(int64(len(reports)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range reports {
		if stopped.Load() {
			break
		}
		g.Go(func() error {
			if stopped.Load() {
				return nil
			}
			report := applyOverrides(reports[i], opts)
			result, err := c.processOne(gctx, i, report)
			if err != nil && stopped.Load() && errors.Is(err, context.Canceled) {
				// canceled by an earlier failure, not a failure of its own
				return nil
			}
			outcomes[i] = outcome{result: result, err: err, at: c.now().UTC(), done: true}

			if n := completed.Add(1); n%progressEvery == 0 {
				logger.WithField("completed", n).Info("batch.progress")
			}
			if err != nil {
				logger.WithFields(log.Fields{
					"report_index": i,
					"error":        err.Error(),
				}).Warn("batch.report_failed")
				if opts.FailFast {
					lowerFailure(&failedAt, int64(i))
					stopped.Store(true)
					return err
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i := int(failedAt.Load()) + 1; i < len(outcomes); i++ {
		outcomes[i] = outcome{}
	}
	if opts.OnResult != nil {
		for i, o := range outcomes {
			if o.done && o.err == nil {
				opts.OnResult(i, batchID, o.result)
			}
		}
	}

	elapsed := time.Since(start)
	result := c.assemble(batchID, reports, outcomes, opts, elapsed, stopped.Load())
	logger.WithFields(log.Fields{
		"status":     result.BatchStatus,
		"successful": result.SuccessfulReports,
		"failed":     result.FailedReports,
		"duration":   elapsed.String(),
	}).Info("batch.completed")
	return result, nil
}

// lowerFailure records index as the failing index if it precedes the current one.
func lowerFailure(failedAt *atomic.Int64, index int64) {
	for {
		cur := failedAt.Load()
		if index >= cur || failedAt.CompareAndSwap(cur, index) {
			return
		}
	}
}

// processOne runs a report under the per-report timeout. The processor is
// abandoned, not interrupted, if it ignores its context.
func (c *Coordinator) processOne(ctx context.Context, index int, report models.ReportRequest) (*models.ReportResult, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.ReportTimeout)
	defer cancel()

	type reply struct {
		result *models.ReportResult
		err    error
	}
	ch := make(chan reply, 1)
	go func() {
		result, err := c.processor.Process(rctx, report)
		ch <- reply{result: result, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{Index: index, Err: r.err}
		}
		return r.result, r.err
	case <-rctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TimeoutError{Index: index, Err: rctx.Err()}
	}
}

func applyOverrides(report models.ReportRequest, opts Options) models.ReportRequest {
	if opts.ConfidenceThreshold != nil {
		threshold := *opts.ConfidenceThreshold
		report.ConfidenceThreshold = &threshold
	}
	if opts.DisableExplainability {
		report.IncludeExplainability = false
	}
	if opts.DisableClustering {
		report.IncludeClustering = false
	}
	return report
}
