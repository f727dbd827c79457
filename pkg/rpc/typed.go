package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Typed adapts a handler taking a decoded request to HandlerFunc. An absent
// or null params payload leaves the request at its zero value.
func Typed[Req any](fn func(Req) (any, error)) HandlerFunc {
	return TypedContext(func(_ context.Context, req Req) (any, error) {
		return fn(req)
	})
}

// TypedContext is Typed for handlers that need the request context.
func TypedContext[Req any](fn func(context.Context, Req) (any, error)) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req Req
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, fmt.Errorf("decoding request: %w", err)
			}
		}
		return fn(ctx, req)
	}
}
