package cache

import (
	"context"
	"time"

	"adeguard/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-process LRU with per-entry expiry.
type MemoryStore struct {
	lru *expirable.LRU[string, *models.ReportResult]
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	return &MemoryStore{lru: expirable.NewLRU[string, *models.ReportResult](size, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*models.ReportResult, bool) {
	return m.lru.Get(key)
}

func (m *MemoryStore) Set(_ context.Context, key string, result *models.ReportResult) {
	m.lru.Add(key, result)
}

func (m *MemoryStore) Len(_ context.Context) int {
	return m.lru.Len()
}

func (m *MemoryStore) Name() string { return "memory" }
