// Package tracing records timed span trees for a single request. A root span
// takes the request ID from the context as its trace ID; child spans started
// under it are logged together with it.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/logger"
)

type contextKey struct{}

// Span is one timed operation.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []any
}

// Start begins a span. With a span already in ctx the new one becomes its
// child; otherwise it is a root span.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, Start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		s.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else {
		s.TraceID = logger.RequestID(ctx)
	}
	return context.WithValue(ctx, contextKey{}, s), s
}

// FromContext returns the current span, or nil.
func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// End fixes the span's duration. Calling it again has no effect.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Duration == 0 {
		s.Duration = max(time.Since(s.Start), time.Nanosecond)
	}
}

// SetAttr attaches a key-value pair logged with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// Children returns the direct children in start order.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Attr returns the last value set for key.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.attrs) - 2; i >= 0; i -= 2 {
		if s.attrs[i] == key {
			return s.attrs[i+1], true
		}
	}
	return nil, false
}

// Log writes the span and its descendants, one record per span.
func (s *Span) Log(ctx context.Context, log *slog.Logger, level slog.Level) {
	if !log.Enabled(ctx, level) {
		return
	}
	s.log(ctx, log, level, 0)
}

func (s *Span) log(ctx context.Context, log *slog.Logger, level slog.Level, depth int) {
	s.mu.Lock()
	args := append([]any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", float64(s.Duration.Microseconds()) / 1000,
		"depth", depth,
	}, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	log.Log(ctx, level, "span", args...)
	for _, c := range children {
		c.log(ctx, log, level, depth+1)
	}
}
