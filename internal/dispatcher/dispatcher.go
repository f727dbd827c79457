// Package dispatcher is the query and submission gateway in front of the
// storage nodes. Reads go to one node at a time in round-robin order with
// failover; URL submissions go to every node under the dispatcher's own
// sequence numbers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/fetcher"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/node"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/sequence"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/textproc"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/tracing"
)

// Options configures a Dispatcher.
type Options struct {
	Name           string
	Addr           string
	Nodes          []config.Endpoint
	Connector      rpc.Connector
	HistoryLimit   int
	ResendAttempts int
	ResendDelay    time.Duration
	TopTerms       int

	// BreakerThreshold consecutive failures take a node out of rotation for
	// BreakerReset, after which one trial call is let through.
	BreakerThreshold int
	BreakerReset     time.Duration

	// SlowQuery searches at or above this latency log their span tree at
	// warn level. Zero keeps span trees at debug.
	SlowQuery time.Duration

	Cache   QueryCache
	Events  events.Tracker
	Metrics *metrics.Metrics
}

// target is one configured node. client is nil until the first successful
// connection and again after any failed call.
type target struct {
	name string
	addr string

	mu        sync.Mutex
	client    *node.Client
	resetDone bool

	breaker *resilience.CircuitBreaker

	calls        atomic.Int64
	latencyNanos atomic.Int64
}

func (t *target) observe(elapsed time.Duration) {
	t.calls.Add(1)
	t.latencyNanos.Add(int64(elapsed))
}

type Dispatcher struct {
	name           string
	addr           string
	connector      rpc.Connector
	targets        []*target
	next           atomic.Uint64
	connects       singleflight.Group
	queries        singleflight.Group
	history        *sequence.History[string]
	resendAttempts int
	resendDelay    time.Duration
	topN           int
	slowQuery      time.Duration
	terms          *termCounter
	cache          QueryCache
	events         events.Tracker
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

func New(opts Options) *Dispatcher {
	if opts.ResendAttempts <= 0 {
		opts.ResendAttempts = 3
	}
	if opts.ResendDelay <= 0 {
		opts.ResendDelay = 100 * time.Millisecond
	}
	if opts.TopTerms <= 0 {
		opts.TopTerms = 10
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = 5 * time.Second
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	d := &Dispatcher{
		name:           opts.Name,
		addr:           opts.Addr,
		connector:      opts.Connector,
		history:        sequence.NewHistory[string](opts.HistoryLimit),
		resendAttempts: opts.ResendAttempts,
		resendDelay:    opts.ResendDelay,
		topN:           opts.TopTerms,
		slowQuery:      opts.SlowQuery,
		terms:          newTermCounter(),
		cache:          opts.Cache,
		events:         opts.Events,
		metrics:        opts.Metrics,
		logger:         slog.Default().With("component", "dispatcher", "dispatcher", opts.Name),
	}
	for _, ep := range opts.Nodes {
		d.metrics.CircuitState.WithLabelValues(ep.Name).Set(float64(resilience.StateClosed))
		d.targets = append(d.targets, &target{
			name: ep.Name,
			addr: ep.Addr,
			breaker: resilience.NewCircuitBreaker(ep.Name, resilience.CircuitBreakerConfig{
				FailureThreshold: opts.BreakerThreshold,
				ResetTimeout:     opts.BreakerReset,
				// A node that answered with an error is still reachable.
				IsFailure: func(err error) bool { return !rpc.IsRemote(err) },
				OnStateChange: func(name string, _, to resilience.State) {
					d.metrics.CircuitState.WithLabelValues(name).Set(float64(to))
				},
			}),
		})
	}
	return d
}

// handle returns the live client for t, connecting on demand. Concurrent
// callers share one connection attempt. The first connection in this
// process's lifetime resets the node's sequence state for the dispatcher.
func (d *Dispatcher) handle(t *target) (*node.Client, error) {
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := d.connects.Do(t.name, func() (any, error) {
		t.mu.Lock()
		if t.client != nil {
			c := t.client
			t.mu.Unlock()
			return c, nil
		}
		needsReset := !t.resetDone
		t.mu.Unlock()

		c, err := node.Dial(d.connector, t.addr)
		if err != nil {
			return nil, err
		}
		if needsReset {
			if err := c.ResetSender(d.name); err != nil {
				c.Close()
				return nil, fmt.Errorf("resetting sender state on %s: %w", t.name, err)
			}
		}
		t.mu.Lock()
		t.client = c
		t.resetDone = true
		t.mu.Unlock()
		d.logger.Info("connected to node", "node", t.name, "addr", t.addr)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*node.Client), nil
}

// drop forgets c so the next call reconnects.
func (d *Dispatcher) drop(t *target, c *node.Client) {
	t.mu.Lock()
	if t.client == c {
		t.client = nil
	}
	t.mu.Unlock()
	c.Close()
}

// roundRobin runs fn against the next node in rotation, failing over to the
// remaining nodes in order. It returns the node that answered.
func (d *Dispatcher) roundRobin(ctx context.Context, op string, fn func(c *node.Client) error) (string, error) {
	n := len(d.targets)
	if n == 0 {
		return "", apperrors.ErrNoNodesAvailable
	}
	log := logger.FromContext(ctx)
	start := int(d.next.Add(1) - 1)
	for i := 0; i < n; i++ {
		t := d.targets[(start+i)%n]
		var (
			outcome = "unreachable"
			began   time.Time
		)
		_, span := tracing.Start(ctx, "node")
		span.SetAttr("node", t.name)
		err := t.breaker.Execute(func() error {
			c, err := d.handle(t)
			if err != nil {
				return err
			}
			began = time.Now()
			if err := fn(c); err != nil {
				if !rpc.IsRemote(err) {
					d.drop(t, c)
				}
				outcome = "error"
				return err
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				outcome = "open"
			}
			span.SetAttr("outcome", outcome)
			span.End()
			d.metrics.DispatchCallsTotal.WithLabelValues(op, t.name, outcome).Inc()
			log.Warn("node call failed, failing over", "op", op, "node", t.name, "outcome", outcome, "error", err)
			continue
		}
		elapsed := time.Since(began)
		span.SetAttr("outcome", "ok")
		span.End()
		t.observe(elapsed)
		d.metrics.DispatchCallsTotal.WithLabelValues(op, t.name, "ok").Inc()
		d.metrics.DispatchLatency.WithLabelValues(op).Observe(elapsed.Seconds())
		if i > 0 {
			d.metrics.FailoversTotal.WithLabelValues(op).Inc()
		}
		return t.name, nil
	}
	return "", apperrors.New(apperrors.ErrNoNodesAvailable, http.StatusServiceUnavailable,
		fmt.Sprintf("%s: none of %d nodes reachable", op, n))
}

// Search answers a free-text query from one node. Identical concurrent
// queries share a single node call.
func (d *Dispatcher) Search(ctx context.Context, query string) (proto.QueryReply, error) {
	start := time.Now()
	terms := textproc.Terms(query)
	if len(terms) == 0 {
		return proto.QueryReply{}, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query has no searchable terms")
	}
	d.terms.Add(terms)

	ctx, span := tracing.Start(ctx, "search")
	span.SetAttr("terms", len(terms))
	key := queryKey(terms)
	v, err, shared := d.queries.Do(key, func() (any, error) {
		if d.cache != nil {
			_, cs := tracing.Start(ctx, "cache")
			results, ok := d.cache.Get(ctx, key)
			cs.SetAttr("hit", ok)
			cs.End()
			if ok {
				d.metrics.CacheHitsTotal.Inc()
				return proto.QueryReply{Terms: terms, Cached: true, Results: results}, nil
			}
			d.metrics.CacheMissesTotal.Inc()
		}
		var results []proto.PageRecord
		served, err := d.roundRobin(ctx, "search", func(c *node.Client) error {
			var err error
			results, err = c.Search(terms)
			return err
		})
		if err != nil {
			return nil, err
		}
		if results == nil {
			results = []proto.PageRecord{}
		}
		if d.cache != nil {
			d.cache.Set(ctx, key, results)
		}
		return proto.QueryReply{Terms: terms, Node: served, Results: results}, nil
	})
	span.SetAttr("shared", shared)
	span.End()
	d.logSpan(ctx, span)
	if err != nil {
		return proto.QueryReply{}, err
	}
	reply := v.(proto.QueryReply)
	reply.Terms = terms

	latency := time.Since(start)
	logger.FromContext(ctx).Info("search completed",
		"query", query,
		"node", reply.Node,
		"results", len(reply.Results),
		"cached", reply.Cached,
		"latency_ms", latency.Milliseconds(),
	)
	d.events.Track(events.SearchEvent{
		Type:      events.EventSearch,
		Query:     query,
		Terms:     terms,
		Node:      reply.Node,
		Results:   len(reply.Results),
		LatencyMs: latency.Milliseconds(),
		CacheHit:  reply.Cached,
		RequestID: logger.RequestID(ctx),
		Timestamp: time.Now().UTC(),
	})
	return reply, nil
}

func (d *Dispatcher) logSpan(ctx context.Context, span *tracing.Span) {
	level := slog.LevelDebug
	if d.slowQuery > 0 && span.Duration >= d.slowQuery {
		level = slog.LevelWarn
	}
	span.Log(ctx, logger.FromContext(ctx), level)
}

// AddURL assigns the URL the next sequence number and offers it to every
// node. It fails with ErrNoNodesAvailable when no node could be reached and
// with ErrRejectedByAll when every reachable node already knew the URL.
func (d *Dispatcher) AddURL(ctx context.Context, rawURL string) (proto.AddURLReply, error) {
	normalized, err := normalizeSubmission(rawURL)
	if err != nil {
		return proto.AddURLReply{}, err
	}
	seq := d.history.Append(normalized)
	d.metrics.HistoryRetained.Set(float64(d.history.Len()))
	req := proto.EnqueueURLTrackedRequest{URL: normalized, Seq: seq, SenderID: d.name, SenderAddr: d.addr}

	reachable := 0
	var accepted []string
	for _, t := range d.targets {
		c, err := d.handle(t)
		if err != nil {
			d.metrics.DispatchCallsTotal.WithLabelValues("add_url", t.name, "unreachable").Inc()
			continue
		}
		began := time.Now()
		reply, err := c.EnqueueURLTracked(req)
		if err != nil {
			d.drop(t, c)
			d.metrics.DispatchCallsTotal.WithLabelValues("add_url", t.name, "error").Inc()
			logger.FromContext(ctx).Warn("enqueue failed", "node", t.name, "url", normalized, "error", err)
			continue
		}
		t.observe(time.Since(began))
		d.metrics.DispatchCallsTotal.WithLabelValues("add_url", t.name, "ok").Inc()
		reachable++
		if reply.Inserted {
			accepted = append(accepted, t.name)
		}
	}

	if reachable == 0 {
		return proto.AddURLReply{}, apperrors.New(apperrors.ErrNoNodesAvailable, http.StatusServiceUnavailable,
			"no storage node reachable")
	}
	if len(accepted) == 0 {
		return proto.AddURLReply{}, apperrors.Newf(apperrors.ErrRejectedByAll, http.StatusConflict,
			"%s is already known to all %d reachable nodes", normalized, reachable)
	}
	logger.FromContext(ctx).Info("url submitted", "url", normalized, "seq", seq, "accepted_by", accepted)
	d.events.Track(events.URLAddedEvent{
		Type:       events.EventURLAdded,
		URL:        normalized,
		Seq:        seq,
		AcceptedBy: accepted,
		Timestamp:  time.Now().UTC(),
	})
	return proto.AddURLReply{Seq: seq, AcceptedBy: accepted}, nil
}

// Resend resubmits a recorded URL to the node that reported it missing,
// reconnecting between attempts. A sequence not in history is a no-op.
func (d *Dispatcher) Resend(ctx context.Context, req proto.ResendRequest) (proto.ResendReply, error) {
	if req.RequesterAddr == "" {
		return proto.ResendReply{}, apperrors.ErrInvalidInput
	}
	u, ok := d.history.Get(req.Seq)
	if !ok {
		d.metrics.ResendsServed.WithLabelValues("miss").Inc()
		d.logger.Debug("resend for sequence not in history", "seq", req.Seq, "requester", req.Requester)
		return proto.ResendReply{}, nil
	}

	err := resilience.Retry(ctx, "resend-url", resilience.RetryConfig{
		MaxAttempts:  d.resendAttempts,
		InitialDelay: d.resendDelay,
		Retryable:    func(err error) bool { return !rpc.IsRemote(err) },
	}, func() error {
		c, err := node.Dial(d.connector, req.RequesterAddr)
		if err != nil {
			return err
		}
		defer c.Close()
		_, err = c.EnqueueURLTracked(proto.EnqueueURLTrackedRequest{
			URL: u, Seq: req.Seq, SenderID: d.name, SenderAddr: d.addr,
		})
		return err
	})
	if err != nil {
		d.metrics.ResendsServed.WithLabelValues("failed").Inc()
		d.logger.Warn("resend failed", "seq", req.Seq, "requester", req.Requester, "error", err)
		return proto.ResendReply{Found: true}, nil
	}
	d.metrics.ResendsServed.WithLabelValues("ok").Inc()
	return proto.ResendReply{Found: true, Delivered: true}, nil
}

// InLinks lists the pages linking to rawURL, as seen by one node.
func (d *Dispatcher) InLinks(ctx context.Context, rawURL string) ([]string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "url is required")
	}
	target := rawURL
	if normalized, err := fetcher.Normalize(rawURL); err == nil {
		target = normalized
	}
	var sources []string
	_, err := d.roundRobin(ctx, "inlinks", func(c *node.Client) error {
		var err error
		sources, err = c.InLinks(target)
		return err
	})
	if err != nil {
		return nil, err
	}
	if sources == nil {
		sources = []string{}
	}
	return sources, nil
}

// Nodes lists the configured node names in order.
func (d *Dispatcher) Nodes() []string {
	out := make([]string, len(d.targets))
	for i, t := range d.targets {
		out[i] = t.name
	}
	return out
}

// Close drops every node connection.
func (d *Dispatcher) Close() {
	for _, t := range d.targets {
		t.mu.Lock()
		if t.client != nil {
			t.client.Close()
			t.client = nil
		}
		t.mu.Unlock()
	}
}

func normalizeSubmission(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "not an absolute http(s) url: %q", rawURL)
	}
	normalized, err := fetcher.Normalize(u.String())
	if err != nil {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "normalizing %q: %v", rawURL, err)
	}
	if len(normalized) > proto.MaxURLLength {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "url longer than %d bytes", proto.MaxURLLength)
	}
	return normalized, nil
}

// queryKey identifies a term set regardless of term order.
func queryKey(terms []string) string {
	sorted := append([]string(nil), terms...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}
