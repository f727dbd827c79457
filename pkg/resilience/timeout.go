package resilience

import (
	"context"
	"fmt"
	"time"
)

// Call runs fn under a context that expires after timeout and gives up
// waiting when it does. fn should honour its context; a call that ignores
// it finishes in the background and its result is dropped. A zero timeout
// only inherits ctx.
func Call[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-tctx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w after %v", name, context.DeadlineExceeded, timeout)
	}
}

// WithTimeout is Call for functions with no result.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, timeout, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
