// Package driver runs the crawl loop: it pulls URLs from the storage nodes'
// frontiers, fetches them, and multicasts each page to every live node under
// a single sequence number.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/node"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/sequence"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

// Fetcher turns a URL into a page record and its outbound links. Failures
// are isolated to the URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (proto.PageRecord, []string, error)
}

// Options configures a Driver.
type Options struct {
	Name         string
	Addr         string
	Nodes        []config.Endpoint
	Connector    rpc.Connector
	Fetcher      Fetcher
	Workers      int
	IdleBackoff  time.Duration
	EmptyBackoff time.Duration
	HistoryLimit int
	SeedURLs     []string
	Events       events.Tracker
	Metrics      *metrics.Metrics
}

type payload struct {
	Page  proto.PageRecord
	Links []string
}

// peer is one entry of the connectivity map. client is nil while the node is
// considered down.
type peer struct {
	name      string
	addr      string
	client    *node.Client
	resetDone bool
}

type Driver struct {
	name         string
	addr         string
	connector    rpc.Connector
	fetcher      Fetcher
	workers      int
	idleBackoff  time.Duration
	emptyBackoff time.Duration
	seeds        []string
	history      *sequence.History[payload]
	events       events.Tracker
	metrics      *metrics.Metrics
	logger       *slog.Logger

	mu    sync.Mutex
	peers map[string]*peer
	order []string
	next  int
}

func New(opts Options) *Driver {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = 5 * time.Second
	}
	if opts.EmptyBackoff <= 0 {
		opts.EmptyBackoff = time.Second
	}
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	d := &Driver{
		name:         opts.Name,
		addr:         opts.Addr,
		connector:    opts.Connector,
		fetcher:      opts.Fetcher,
		workers:      opts.Workers,
		idleBackoff:  opts.IdleBackoff,
		emptyBackoff: opts.EmptyBackoff,
		seeds:        opts.SeedURLs,
		history:      sequence.NewHistory[payload](opts.HistoryLimit),
		events:       opts.Events,
		metrics:      opts.Metrics,
		logger:       slog.Default().With("component", "driver", "driver", opts.Name),
		peers:        make(map[string]*peer, len(opts.Nodes)),
	}
	for _, ep := range opts.Nodes {
		d.peers[ep.Name] = &peer{name: ep.Name, addr: ep.Addr}
		d.order = append(d.order, ep.Name)
	}
	return d
}

// Run connects to the configured nodes, enqueues the seed URLs and runs the
// crawl workers until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	for _, name := range d.nodeNames() {
		if err := d.connect(name); err != nil {
			d.logger.Warn("node unreachable at startup", "node", name, "error", err)
		}
	}
	d.Seed(d.seeds)

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(ctx, id)
		}(i)
	}
	d.logger.Info("driver started", "workers", d.workers, "live_nodes", len(d.Live()))
	wg.Wait()
	d.logger.Info("driver stopped", "history", d.history.Len())
	return nil
}

func (d *Driver) worker(ctx context.Context, id int) {
	d.logger.Debug("worker started", "id", id)
	for ctx.Err() == nil {
		d.Step(ctx)
	}
}

// Step performs one pull-fetch-push round against the next live node. It
// sleeps for the configured backoff when no node is live or the frontier is
// empty, and reports whether a URL was processed.
func (d *Driver) Step(ctx context.Context) bool {
	p, client := d.nextLive()
	if client == nil {
		sleep(ctx, d.idleBackoff)
		return false
	}
	url, ok, err := client.DequeueURL()
	if err != nil {
		d.demote(p, client, err)
		return false
	}
	if !ok {
		sleep(ctx, d.emptyBackoff)
		return false
	}
	d.process(ctx, url)
	return true
}

func (d *Driver) process(ctx context.Context, url string) {
	start := time.Now()
	page, links, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		d.metrics.FetchesTotal.WithLabelValues("error").Inc()
		d.logger.Warn("fetch failed", "url", url, "error", err)
		return
	}
	d.metrics.FetchesTotal.WithLabelValues("ok").Inc()
	fetchMs := time.Since(start).Milliseconds()

	seq := d.history.Append(payload{Page: page, Links: links})
	d.metrics.HistoryRetained.Set(float64(d.history.Len()))

	accepted := d.push(seq, page, links)
	d.logger.Info("page pushed", "url", url, "seq", seq, "links", len(links), "nodes", len(accepted))
	d.events.Track(events.PageIndexedEvent{
		Type:      events.EventPageIndexed,
		Driver:    d.name,
		URL:       url,
		Seq:       seq,
		Words:     len(page.Words),
		Links:     len(links),
		Nodes:     accepted,
		FetchMs:   fetchMs,
		Timestamp: time.Now().UTC(),
	})
}

// push delivers one sequenced page to every live node concurrently. A node
// that fails the call is demoted. It returns the nodes that took the call.
func (d *Driver) push(seq int64, page proto.PageRecord, links []string) []string {
	req := proto.IngestPageRequest{
		Seq:        seq,
		Page:       page,
		Links:      links,
		SenderID:   d.name,
		SenderAddr: d.addr,
	}
	targets := d.liveClients()

	var mu sync.Mutex
	var accepted []string
	var g errgroup.Group
	for p, client := range targets {
		g.Go(func() error {
			if _, err := client.IngestPage(req); err != nil {
				d.metrics.PushesTotal.WithLabelValues(p.name, "error").Inc()
				d.demote(p, client, err)
				return nil
			}
			d.metrics.PushesTotal.WithLabelValues(p.name, "ok").Inc()
			mu.Lock()
			accepted = append(accepted, p.name)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	sort.Strings(accepted)
	return accepted
}

// Seed enqueues urls on every live node.
func (d *Driver) Seed(urls []string) {
	if len(urls) == 0 {
		return
	}
	for p, client := range d.liveClients() {
		for _, url := range urls {
			if _, err := client.EnqueueURL(url); err != nil {
				d.demote(p, client, err)
				break
			}
		}
	}
	d.logger.Info("seed urls enqueued", "count", len(urls))
}

// Resend redelivers a recorded page to the node that asked for it.
func (d *Driver) Resend(req proto.ResendRequest) (proto.ResendReply, error) {
	if req.RequesterAddr == "" {
		return proto.ResendReply{}, apperrors.ErrInvalidInput
	}
	p, ok := d.history.Get(req.Seq)
	if !ok {
		d.metrics.ResendsServed.WithLabelValues("miss").Inc()
		d.logger.Debug("resend for sequence not in history", "seq", req.Seq, "requester", req.Requester)
		return proto.ResendReply{}, nil
	}

	client, err := node.Dial(d.connector, req.RequesterAddr)
	if err != nil {
		d.metrics.ResendsServed.WithLabelValues("unreachable").Inc()
		return proto.ResendReply{Found: true}, nil
	}
	defer client.Close()
	_, err = client.IngestPage(proto.IngestPageRequest{
		Seq:        req.Seq,
		Page:       p.Page,
		Links:      p.Links,
		SenderID:   d.name,
		SenderAddr: d.addr,
	})
	if err != nil {
		d.metrics.ResendsServed.WithLabelValues("failed").Inc()
		d.logger.Warn("resend delivery failed", "seq", req.Seq, "requester", req.Requester, "error", err)
		return proto.ResendReply{Found: true}, nil
	}
	d.metrics.ResendsServed.WithLabelValues("ok").Inc()
	d.logger.Debug("resent page", "seq", req.Seq, "requester", req.Requester)
	return proto.ResendReply{Found: true, Delivered: true}, nil
}

// NodeUp marks a node live again, adding it to the connectivity map if it
// was not configured.
func (d *Driver) NodeUp(req proto.NodeUpRequest) error {
	if req.Name == "" || req.Addr == "" {
		return apperrors.ErrInvalidInput
	}
	d.mu.Lock()
	p, ok := d.peers[req.Name]
	if !ok {
		p = &peer{name: req.Name}
		d.peers[req.Name] = p
		d.order = append(d.order, req.Name)
	}
	if p.addr != req.Addr && p.client != nil {
		p.client.Close()
		p.client = nil
	}
	p.addr = req.Addr
	d.mu.Unlock()

	d.logger.Info("node announced itself", "node", req.Name, "addr", req.Addr)
	return d.connect(req.Name)
}

// connect (re)opens the handle to a node. The first successful connection in
// this process's lifetime also resets the node's sequence state for us.
func (d *Driver) connect(name string) error {
	d.mu.Lock()
	p, ok := d.peers[name]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("unknown node %q", name)
	}
	addr, needsReset := p.addr, !p.resetDone
	d.mu.Unlock()

	client, err := node.Dial(d.connector, addr)
	if err != nil {
		return err
	}
	if needsReset {
		if err := client.ResetSender(d.name); err != nil {
			client.Close()
			return fmt.Errorf("resetting sender state on %s: %w", name, err)
		}
	}

	d.mu.Lock()
	if p.client != nil {
		p.client.Close()
	}
	p.client = client
	p.resetDone = true
	live := d.liveCountLocked()
	d.mu.Unlock()
	d.metrics.LiveNodes.Set(float64(live))
	d.logger.Info("node connected", "node", name, "addr", addr)
	return nil
}

func (d *Driver) demote(p *peer, client *node.Client, cause error) {
	d.mu.Lock()
	if p.client != client {
		d.mu.Unlock()
		return
	}
	p.client = nil
	live := d.liveCountLocked()
	d.mu.Unlock()

	client.Close()
	d.metrics.DemotionsTotal.WithLabelValues(p.name).Inc()
	d.metrics.LiveNodes.Set(float64(live))
	d.logger.Warn("node demoted", "node", p.name, "error", cause)
}

// nextLive returns the next live node in round-robin order.
func (d *Driver) nextLive() (*peer, *node.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < len(d.order); i++ {
		p := d.peers[d.order[d.next%len(d.order)]]
		d.next++
		if p.client != nil {
			return p, p.client
		}
	}
	return nil, nil
}

func (d *Driver) liveClients() map[*peer]*node.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[*peer]*node.Client, len(d.peers))
	for _, p := range d.peers {
		if p.client != nil {
			out[p] = p.client
		}
	}
	return out
}

func (d *Driver) liveCountLocked() int {
	n := 0
	for _, p := range d.peers {
		if p.client != nil {
			n++
		}
	}
	return n
}

func (d *Driver) nodeNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

// Live lists the nodes currently considered reachable, sorted by name.
func (d *Driver) Live() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for name, p := range d.peers {
		if p.client != nil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// NextSeq is the sequence number the next fetched page will carry.
func (d *Driver) NextSeq() int64 {
	return d.history.Next()
}

// Close drops every node handle.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.peers {
		if p.client != nil {
			p.client.Close()
			p.client = nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
