package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

const cacheKeyPrefix = "rcs:search:"

// QueryCache stores search results by normalized term set. Failures are
// treated as misses.
type QueryCache interface {
	Get(ctx context.Context, key string) ([]proto.PageRecord, bool)
	Set(ctx context.Context, key string, results []proto.PageRecord)
}

// KV is the subset of the Redis client the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache keeps results in Redis for a short TTL.
type RedisCache struct {
	kv     KV
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(kv KV, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{
		kv:     kv,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]proto.PageRecord, bool) {
	k := buildKey(key)
	data, found, err := c.kv.Get(ctx, k)
	if err != nil {
		c.logger.Error("cache get failed", "key", k, "error", err)
	}
	if !found {
		return nil, false
	}
	var results []proto.PageRecord
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		return nil, false
	}
	return results, true
}

func (c *RedisCache) Set(ctx context.Context, key string, results []proto.PageRecord) {
	k := buildKey(key)
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	if err := c.kv.Set(ctx, k, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", k, "error", err)
	}
}

func buildKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s%x", cacheKeyPrefix, hash[:16])
}
