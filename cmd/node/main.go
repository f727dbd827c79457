// Command node runs one storage node.
//
// On startup the node clones a peer's state when node.peerAddr is set and
// reachable, otherwise it restores its own bbolt snapshot. It then serves
// the node RPC surface, announces itself to the configured drivers and
// flushes its state periodically until SIGINT/SIGTERM.
//
// Usage:
//
//	go run ./cmd/node [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/node"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/node/store"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging, cfg.Node.Name)
	nc := cfg.Node
	slog.Info("starting storage node", "name", nc.Name, "listen", nc.ListenAddr, "peer", nc.PeerAddr)

	if err := os.MkdirAll(filepath.Dir(nc.StorePath), 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err)
		os.Exit(1)
	}
	db, err := store.Open(nc.StorePath)
	if err != nil {
		slog.Error("failed to open node store", "path", nc.StorePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var connector rpc.TCPConnector
	resender := node.NewRemoteResender(connector, nc.Name, nc.AdvertiseAddr, m)
	defer resender.Close()

	n := node.New(node.Options{
		Name:           nc.Name,
		Addr:           nc.AdvertiseAddr,
		FilterCapacity: nc.FilterCapacity,
		FilterFPRate:   nc.FilterFPRate,
		Resender:       resender,
		Store:          db,
		Metrics:        m,
	})

	// Bootstrap completes before the RPC server accepts anything.
	source, err := node.Bootstrap(n, node.BootstrapConfig{
		PeerAddr:  nc.PeerAddr,
		Connector: connector,
		Store:     db,
	})
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	st := n.Stats()
	slog.Info("node state ready", "source", source, "pages", st.Pages, "terms", st.Terms, "frontier", st.Frontier)

	srv := rpc.NewServer()
	node.Register(srv, n)
	go func() {
		if err := srv.Serve(nc.ListenAddr); err != nil {
			slog.Error("rpc server error", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flushDone := n.StartFlushLoop(ctx, nc.FlushInterval)

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		checker := health.NewChecker(nc.Name)
		checker.Register("rpc", func(context.Context) health.ComponentHealth {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d methods", srv.MethodCount())}
		})
		if len(nc.Drivers) > 0 {
			drivers := make(map[string]string, len(nc.Drivers))
			for _, addr := range nc.Drivers {
				drivers[addr] = addr
			}
			checker.RegisterOptional("drivers", health.Peers(connector, drivers, 2*time.Second))
		}
		shutdownMetrics, err = metrics.StartServer(cfg.Metrics.Port, reg, checker.Routes)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	if len(nc.Drivers) > 0 {
		announced := node.AnnounceUp(connector, nc.Drivers, nc.Name, nc.AdvertiseAddr)
		slog.Info("announced to drivers", "announced", announced, "configured", len(nc.Drivers))
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")
	flushErr := n.Drain(srv.Stop, flushDone)
	if shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownMetrics(shutdownCtx)
	}
	if flushErr != nil {
		slog.Error("state not persisted on shutdown", "error", flushErr)
		resender.Close()
		db.Close()
		os.Exit(1)
	}
	slog.Info("storage node stopped")
}
