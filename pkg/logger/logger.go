// Package logger configures log/slog for the cluster processes. Every record
// carries the process name, so interleaved logs from nodes, drivers and the
// dispatcher stay attributable, and request-scoped loggers add the request ID.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
)

type contextKey struct{}

// Setup installs the process-wide default logger on stderr.
func Setup(cfg config.LoggingConfig, process string) {
	slog.SetDefault(New(os.Stderr, cfg, process))
}

// New builds a logger writing to w without touching the default. An empty
// process name adds no attribute.
func New(w io.Writer, cfg config.LoggingConfig, process string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.Source,
	}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	l := slog.New(handler)
	if process != "" {
		l = l.With("process", process)
	}
	return l
}

// ParseLevel accepts slog's names with optional offsets ("debug", "WARN+2").
// Anything else is info.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// FromContext returns the default logger, tagged with the request ID when
// ctx carries one.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RequestID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	return l
}

func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
