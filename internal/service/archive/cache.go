package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"msgarchive/internal/models"
	"msgarchive/internal/redis"
)

const (
	threadCacheKey        = "threads:summary"
	defaultThreadCacheTTL = 30 * time.Second
)

// threadCache keeps the last ListThreads result in redis. Every method is a
// no-op without a client; failures fall back to the database.
type threadCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newThreadCache(client *redis.Client, ttl time.Duration) *threadCache {
	if ttl <= 0 {
		ttl = defaultThreadCacheTTL
	}
	return &threadCache{client: client, ttl: ttl}
}

func (c *threadCache) load(ctx context.Context) ([]models.ThreadSummary, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, threadCacheKey)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			slog.Warn("thread cache load failed", "err", err)
		}
		return nil, false
	}
	var threads []models.ThreadSummary
	if err := json.Unmarshal([]byte(raw), &threads); err != nil {
		slog.Warn("thread cache decode failed", "err", err)
		return nil, false
	}
	return threads, true
}

func (c *threadCache) store(ctx context.Context, threads []models.ThreadSummary) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(threads)
	if err != nil {
		slog.Warn("thread cache marshal failed", "err", err)
		return
	}
	if err := c.client.Set(ctx, threadCacheKey, data, c.ttl); err != nil {
		slog.Warn("thread cache store failed", "err", err)
	}
}

func (c *threadCache) invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, threadCacheKey); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		slog.Warn("thread cache invalidate failed", "err", err)
	}
}
