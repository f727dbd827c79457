// Package postgres holds the dispatcher's optional stats database: a lib/pq
// pool, embedded golang-migrate migrations and a transaction helper.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/resilience"
)

const connectTimeout = 5 * time.Second

type Client struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the pool and pings it, retrying while the server comes up. Zero
// pool settings keep database/sql's defaults.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	err = resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     3 * time.Second,
	}, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	c := &Client{db: db, logger: slog.Default().With("component", "postgres", "database", cfg.Database)}
	c.logger.Info("connected to postgres", "host", cfg.Host, "port", cfg.Port, "max_open_conns", cfg.MaxOpenConns)
	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Health is a health.CheckFunc reporting the pool as down when a ping fails
// and degraded when callers are waiting on connections.
func (c *Client) Health(ctx context.Context) health.ComponentHealth {
	if err := c.Ping(ctx); err != nil {
		return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
	}
	st := c.db.Stats()
	if st.MaxOpenConnections > 0 && st.InUse >= st.MaxOpenConnections && st.WaitCount > 0 {
		return health.ComponentHealth{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("pool exhausted: %d in use, %d waits", st.InUse, st.WaitCount),
		}
	}
	return health.ComponentHealth{Status: health.StatusUp}
}

func (c *Client) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// InTx runs fn in a transaction, committing on nil and rolling back
// otherwise. opts may be nil.
func (c *Client) InTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
