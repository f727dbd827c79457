// Command dispatcher runs the query and submission gateway. It serves the
// dispatcher RPC surface for searchctl and the sequenced resend endpoint for
// nodes, plus an HTTP JSON API.
//
// Redis (query cache), Kafka (search events) and PostgreSQL (stats history)
// are optional and enabled per config section.
//
// Usage:
//
//	go run ./cmd/dispatcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/redis"
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
	logger.Setup(cfg.Logging, cfg.Dispatcher.Name)
	dc := cfg.Dispatcher
	slog.Info("starting dispatcher", "name", dc.Name, "nodes", len(dc.Nodes), "port", cfg.Server.Port)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker(dc.Name)
	var connector rpc.TCPConnector
	addrs := make(map[string]string, len(dc.Nodes))
	for _, ep := range dc.Nodes {
		addrs[ep.Name] = ep.Addr
	}
	checker.Register("nodes", health.Peers(connector, addrs, 2*time.Second))

	var queryCache dispatcher.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, query caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = dispatcher.NewRedisCache(redisClient, cfg.Redis.CacheTTL)
			checker.RegisterOptional("redis", redisClient.Health)
			slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var tracker events.Tracker = events.Discard{}
	var collector *events.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		collector = events.NewCollector(producer, dc.Name, 10000)
		collector.Start(ctx)
		tracker = collector
		slog.Info("search events enabled", "topic", cfg.Kafka.Topics.SearchEvents)
	}

	d := dispatcher.New(dispatcher.Options{
		Name:           dc.Name,
		Addr:           dc.AdvertiseAddr,
		Nodes:          dc.Nodes,
		Connector:      connector,
		HistoryLimit:   dc.HistoryLimit,
		ResendAttempts: dc.ResendAttempts,
		TopTerms:       dc.TopTerms,
		SlowQuery:      dc.SlowQuery,
		Cache:          queryCache,
		Events:         tracker,
		Metrics:        m,
	})
	defer d.Close()

	var statsStore *dispatcher.StatsStore
	var snapshotsDone <-chan struct{}
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		checker.RegisterOptional("postgres", db.Health)
		statsStore = dispatcher.NewStatsStore(db, dc.Name, 1000)
		snapshotsDone = statsStore.StartPeriodicSave(ctx, d, dc.StatsSnapshotInterval)
	}

	rpcServer := rpc.NewServer()
	dispatcher.Register(rpcServer, d)
	go func() {
		if err := rpcServer.Serve(dc.ListenAddr); err != nil {
			slog.Error("rpc server error", "error", err)
			os.Exit(1)
		}
	}()

	mux := http.NewServeMux()
	dispatcher.NewHandler(d, statsStore, dc.PageSize).Routes(mux)
	checker.Routes(mux)

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if dc.SubmitRateLimit > 0 {
		limiter := ratelimit.New(dc.SubmitRateLimit, time.Minute)
		limiter.StartCleanup(ctx, 5*time.Minute)
		chain = middleware.RateLimit(limiter, func(r *http.Request) bool {
			return r.Method == http.MethodPost && r.URL.Path == "/api/v1/urls"
		})(chain)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chain = middleware.CORS(middleware.CORSConfig{AllowOrigins: cfg.Server.CORSOrigins})(chain)
	}
	chain = middleware.Metrics(m, mux)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics, err = metrics.StartServer(cfg.Metrics.Port, reg, nil)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			shutdownMetrics(shutdownCtx)
		}
	}()

	slog.Info("dispatcher http api listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", "error", err)
		os.Exit(1)
	}

	rpcServer.Stop()
	if snapshotsDone != nil {
		<-snapshotsDone
	}
	if collector != nil {
		collector.Close()
	}
	slog.Info("dispatcher stopped")
}
