package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StartServer binds the metrics port and serves /metrics for g in the
// background. routes, when non-nil, may mount further handlers (health
// checks) on the same mux. Binding happens before StartServer returns, so a
// port clash is reported to the caller instead of in the background.
func StartServer(port int, g prometheus.Gatherer, routes func(*http.ServeMux)) (shutdown func(context.Context) error, err error) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(g))
	if routes != nil {
		routes(mux)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding metrics port %d: %w", port, err)
	}
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return server.Shutdown, nil
}
