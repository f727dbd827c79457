// Command driver runs a fetch driver: it pulls URLs from the storage nodes,
// fetches them over HTTP and multicasts every page to all live nodes.
//
// Usage:
//
//	go run ./cmd/driver [-config configs/development.yaml] [-seed URL ...]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/driver"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/fetcher"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	seeds := flag.String("seed", "", "comma-separated seed URLs added to the configured ones")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging, cfg.Driver.Name)
	dc := cfg.Driver
	if *seeds != "" {
		dc.SeedURLs = append(dc.SeedURLs, strings.Split(*seeds, ",")...)
	}
	slog.Info("starting fetch driver", "name", dc.Name, "nodes", len(dc.Nodes), "workers", dc.Workers)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracker events.Tracker = events.Discard{}
	var collector *events.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CrawlEvents)
		defer producer.Close()
		collector = events.NewCollector(producer, dc.Name, 10000)
		collector.Start(ctx)
		tracker = collector
		slog.Info("crawl events enabled", "topic", cfg.Kafka.Topics.CrawlEvents)
	}

	var connector rpc.TCPConnector
	d := driver.New(driver.Options{
		Name:      dc.Name,
		Addr:      dc.AdvertiseAddr,
		Nodes:     dc.Nodes,
		Connector: connector,
		Fetcher: fetcher.New(fetcher.Options{
			Timeout:       dc.FetchTimeout,
			UserAgent:     dc.UserAgent,
			RespectRobots: dc.RespectRobots,
		}),
		Workers:      dc.Workers,
		IdleBackoff:  dc.IdleBackoff,
		EmptyBackoff: dc.EmptyBackoff,
		HistoryLimit: dc.HistoryLimit,
		SeedURLs:     dc.SeedURLs,
		Events:       tracker,
		Metrics:      m,
	})
	defer d.Close()

	srv := rpc.NewServer()
	driver.Register(srv, d)
	go func() {
		if err := srv.Serve(dc.ListenAddr); err != nil {
			slog.Error("rpc server error", "error", err)
			os.Exit(1)
		}
	}()

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		addrs := make(map[string]string, len(dc.Nodes))
		for _, ep := range dc.Nodes {
			addrs[ep.Name] = ep.Addr
		}
		checker := health.NewChecker(dc.Name)
		checker.Register("nodes", health.Peers(connector, addrs, 2*time.Second))
		shutdownMetrics, err = metrics.StartServer(cfg.Metrics.Port, reg, checker.Routes)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
	}

	if err := d.Run(ctx); err != nil {
		slog.Error("driver stopped with error", "error", err)
	}
	srv.Stop()
	if collector != nil {
		collector.Close()
	}
	if shutdownMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownMetrics(shutdownCtx)
	}
	slog.Info("fetch driver stopped")
}
