// Package metrics defines the Prometheus collectors used by the node, driver
// and dispatcher processes and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A process registers the whole set
// even though it only updates its own subset.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	IngestTotal         *prometheus.CounterVec
	EnqueueTotal        *prometheus.CounterVec
	GapsDetectedTotal   prometheus.Counter
	ResendRequestsTotal *prometheus.CounterVec
	FrontierSize        prometheus.Gauge
	PagesStored         prometheus.Gauge
	NodeSearchLatency   prometheus.Histogram
	SnapshotFlushTotal  *prometheus.CounterVec

	PushesTotal     *prometheus.CounterVec
	DemotionsTotal  *prometheus.CounterVec
	FetchesTotal    *prometheus.CounterVec
	ResendsServed   *prometheus.CounterVec
	LiveNodes       prometheus.Gauge
	HistoryRetained prometheus.Gauge

	DispatchCallsTotal *prometheus.CounterVec
	DispatchLatency    *prometheus.HistogramVec
	FailoversTotal     *prometheus.CounterVec
	CircuitState       *prometheus.GaugeVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_ingest_total",
				Help: "Sequenced page deliveries by outcome (applied, duplicate).",
			},
			[]string{"outcome"},
		),
		EnqueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_enqueue_total",
				Help: "Frontier insert attempts by outcome (inserted, already_known, duplicate_sequence).",
			},
			[]string{"outcome"},
		),
		GapsDetectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "node_sequence_gaps_total",
				Help: "Deliveries that revealed at least one missing sequence.",
			},
		),
		ResendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_resend_requests_total",
				Help: "Resend requests sent to senders by result.",
			},
			[]string{"result"},
		),
		FrontierSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "node_frontier_size",
				Help: "URLs waiting in the frontier.",
			},
		),
		PagesStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "node_pages_stored",
				Help: "Pages in the page table.",
			},
		),
		NodeSearchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "node_search_latency_seconds",
				Help:    "Node-local search latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		SnapshotFlushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_snapshot_flushes_total",
				Help: "Snapshot flushes to local storage by status.",
			},
			[]string{"status"},
		),
		PushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driver_pushes_total",
				Help: "Page pushes to nodes by node and result.",
			},
			[]string{"node", "result"},
		),
		DemotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driver_demotions_total",
				Help: "Times a node was marked disconnected after an RPC failure.",
			},
			[]string{"node"},
		),
		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driver_fetches_total",
				Help: "Fetch attempts by result (ok, error).",
			},
			[]string{"result"},
		),
		ResendsServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sender_resends_total",
				Help: "Resend requests answered by result (delivered, miss, failed).",
			},
			[]string{"result"},
		),
		LiveNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "driver_live_nodes",
				Help: "Nodes currently considered connected by the driver.",
			},
		),
		HistoryRetained: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sender_history_retained",
				Help: "Payloads retained for resend.",
			},
		),
		DispatchCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_calls_total",
				Help: "Dispatcher calls to nodes by operation, node and result.",
			},
			[]string{"op", "node", "result"},
		),
		DispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dispatcher_call_latency_seconds",
				Help:    "Latency of dispatcher calls to nodes in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"op"},
		),
		FailoversTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_failovers_total",
				Help: "Calls that fell back from the round-robin choice to another node.",
			},
			[]string{"op"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dispatcher_node_circuit_state",
				Help: "Per-node circuit breaker state (0 closed, 1 open, 2 half-open).",
			},
			[]string{"node"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
			m.IngestTotal,
			m.EnqueueTotal,
			m.GapsDetectedTotal,
			m.ResendRequestsTotal,
			m.FrontierSize,
			m.PagesStored,
			m.NodeSearchLatency,
			m.SnapshotFlushTotal,
			m.PushesTotal,
			m.DemotionsTotal,
			m.FetchesTotal,
			m.ResendsServed,
			m.LiveNodes,
			m.HistoryRetained,
			m.DispatchCallsTotal,
			m.DispatchLatency,
			m.FailoversTotal,
			m.CircuitState,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
		)
	}
	return m
}

// Handler returns the Prometheus scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
