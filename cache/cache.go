// Package cache keeps analysis results for identical reports so repeated
// submissions skip the pipeline.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"adeguard/metrics"
	"adeguard/models"

	"github.com/apex/log"
	"github.com/google/uuid"
)

const keyPrefix = "adeguard:report:"

// Store is a result cache backend.
type Store interface {
	Get(ctx context.Context, key string) (*models.ReportResult, bool)
	Set(ctx context.Context, key string, result *models.ReportResult)
	Len(ctx context.Context) int
	Name() string
}

// Key derives the cache key of a report from all fields that influence its analysis.
func Key(report models.ReportRequest) string {
	body, err := json.Marshal(report)
	if err != nil {
		// ReportRequest only holds plain values; fall back to the text alone
		body = []byte(report.SymptomText)
	}
	sum := sha256.Sum256(body)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Processor analyses a single report.
type Processor interface {
	Process(ctx context.Context, report models.ReportRequest) (*models.ReportResult, error)
}

// CachingProcessor serves repeated reports from a Store. Hits are returned as
// copies with a fresh request id and timestamp.
type CachingProcessor struct {
	next  Processor
	store Store

	now   func() time.Time
	newID func() string
}

func NewCachingProcessor(next Processor, store Store) *CachingProcessor {
	return &CachingProcessor{next: next, store: store, now: time.Now, newID: uuid.NewString}
}

func (c *CachingProcessor) Process(ctx context.Context, report models.ReportRequest) (*models.ReportResult, error) {
	key := Key(report)
	if cached, ok := c.store.Get(ctx, key); ok {
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		hit := cached.Clone()
		hit.RequestID = c.newID()
		hit.Timestamp = c.now().UTC()
		return hit, nil
	}
	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()

	result, err := c.next.Process(ctx, report)
	if err != nil {
		return nil, err
	}
	// results with failed optional stages are not cached so a retry can succeed
	if len(result.StageErrors) == 0 {
		c.store.Set(ctx, key, result.Clone())
	} else {
		log.WithField("request_id", result.RequestID).Debug("cache.skip_partial_result")
	}
	return result, nil
}
