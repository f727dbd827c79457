package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds a retry loop. Zero values take the defaults: 3 attempts,
// 100ms initial delay doubling up to 10s, 10% jitter.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64

	// Retryable reports whether another attempt could help. Nil retries
	// every error.
	Retryable func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = 0.1
	}
	if cfg.Retryable == nil {
		cfg.Retryable = func(error) bool { return true }
	}
	return cfg
}

// Retry calls fn until it succeeds, returns an error Retryable rejects, the
// attempts run out, or ctx ends. A rejected error is returned as is.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	log := slog.Default().With("component", "retry", "operation", name)

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				log.Debug("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("%s: all %d attempts failed: %w", name, cfg.MaxAttempts, err)
		}
		delay := backoff(attempt, cfg)
		log.Debug("attempt failed, retrying", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err, "next_delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: aborted after %d attempts: %w", name, attempt, ctx.Err())
		}
	}
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	d := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	d += d * cfg.JitterFraction * (2*rand.Float64() - 1)
	return time.Duration(min(max(d, float64(cfg.InitialDelay)/2), float64(cfg.MaxDelay)))
}
