package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"adeguard/models"

	"github.com/apex/log"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares cached results between service instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the server named by url, e.g. redis://host:6379/0.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*models.ReportResult, bool) {
	body, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("Redis cache get failed: %v", err)
		}
		return nil, false
	}
	var result models.ReportResult
	if err := json.Unmarshal(body, &result); err != nil {
		log.Warnf("Discarding undecodable cache entry %s: %v", key, err)
		return nil, false
	}
	return &result, true
}

func (r *RedisStore) Set(ctx context.Context, key string, result *models.ReportResult) {
	body, err := json.Marshal(result)
	if err != nil {
		log.Warnf("Failed to encode cache entry: %v", err)
		return
	}
	if err := r.client.Set(ctx, key, body, r.ttl).Err(); err != nil {
		log.Warnf("Redis cache set failed: %v", err)
	}
}

// Len counts cached reports. It scans the keyspace and is meant for status pages.
func (r *RedisStore) Len(ctx context.Context) int {
	n := 0
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		log.Warnf("Redis cache scan failed: %v", err)
	}
	return n
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Close() error {
	return r.client.Close()
}
