// Package redis wraps go-redis/v9 for the dispatcher's query cache: byte
// values with a TTL. A missing key is reported as a miss, never as an error.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/health"
)

type Client struct {
	rdb *redis.Client
}

// NewClient connects and verifies the server with a PING. Cache lookups sit
// on the search path, so reads and writes time out quickly.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  250 * time.Millisecond,
		WriteTimeout: 250 * time.Millisecond,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the value under key. found is false for a missing key.
func (c *Client) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	value, err = c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Health is a health.CheckFunc. Pool timeouts report degraded.
func (c *Client) Health(ctx context.Context) health.ComponentHealth {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
	}
	if st := c.rdb.PoolStats(); st.Timeouts > 0 {
		return health.ComponentHealth{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("%d pool timeouts, %d total conns", st.Timeouts, st.TotalConns),
		}
	}
	return health.ComponentHealth{Status: health.StatusUp}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
