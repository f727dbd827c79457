// Package node implements a storage node: a replica holding the page table,
// inverted index, inlink adjacency, membership filter and crawl frontier,
// fed by sequenced deliveries from fetch drivers and the dispatcher.
//
// Each structure has its own lock. Two node-wide locks sit above them:
//
//   - exportMu is held shared by every mutation and exclusively by Export and
//     Install, so a snapshot never captures a half-applied delivery.
//   - publishMu is held exclusively while a page, its postings and its filter
//     entry are written together, and shared by Search, so a reader never sees
//     a URL in the index without its page record or the reverse.
//
// Lock order is exportMu, then publishMu, then the per-structure locks.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/sequence"
	apperrors "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

const (
	DefaultFilterCapacity = 100000
	DefaultFilterFPRate   = 0.01
)

// Resender asks a sender to redeliver missing sequences. The node calls it
// from its own goroutine, never while holding a lock.
type Resender interface {
	RequestResend(senderID, senderAddr string, missing []int64)
}

// Store persists full node snapshots.
type Store interface {
	Save(snap proto.Snapshot) error
	Load() (proto.Snapshot, error)
}

// Options configures a Node.
type Options struct {
	Name           string
	Addr           string
	FilterCapacity uint
	FilterFPRate   float64
	Resender       Resender
	Store          Store
	Metrics        *metrics.Metrics
}

type Node struct {
	name string
	addr string

	pages    *PageTable
	index    *InvertedIndex
	links    *Adjacency
	filter   *Filter
	frontier *Frontier
	tracker  *sequence.Tracker

	exportMu  sync.RWMutex
	publishMu sync.RWMutex

	resender Resender
	store    Store
	metrics  *metrics.Metrics
	logger   *slog.Logger

	searches    atomic.Int64
	searchNanos atomic.Int64
	resends     sync.WaitGroup
}

// New returns an empty node.
func New(opts Options) *Node {
	if opts.FilterCapacity == 0 {
		opts.FilterCapacity = DefaultFilterCapacity
	}
	if opts.FilterFPRate <= 0 {
		opts.FilterFPRate = DefaultFilterFPRate
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &Node{
		name:     opts.Name,
		addr:     opts.Addr,
		pages:    NewPageTable(),
		index:    NewInvertedIndex(),
		links:    NewAdjacency(),
		filter:   NewFilter(opts.FilterCapacity, opts.FilterFPRate),
		frontier: NewFrontier(),
		tracker:  sequence.NewTracker(),
		resender: opts.Resender,
		store:    opts.Store,
		metrics:  opts.Metrics,
		logger:   slog.Default().With("component", "node", "node", opts.Name),
	}
}

func (n *Node) Name() string { return n.name }
func (n *Node) Addr() string { return n.addr }

// IngestPage applies one sequenced page delivery. A sequence already seen
// from the sender is ignored; a sequence beyond the next expected one is
// applied and the gap is requested from the sender asynchronously.
func (n *Node) IngestPage(req proto.IngestPageRequest) (proto.IngestPageReply, error) {
	if req.Page.URL == "" || req.SenderID == "" || req.Seq < 0 {
		return proto.IngestPageReply{}, apperrors.ErrInvalidInput
	}

	n.exportMu.RLock()
	defer n.exportMu.RUnlock()

	out := n.tracker.Observe(req.SenderID, req.Seq)
	if out.Duplicate {
		n.metrics.IngestTotal.WithLabelValues("duplicate").Inc()
		n.logger.Debug("duplicate page delivery ignored", "sender", req.SenderID, "seq", req.Seq)
		return proto.IngestPageReply{}, nil
	}
	n.requestMissing(req.SenderID, req.SenderAddr, out.Missing)

	if len(req.Page.URL) > proto.MaxURLLength {
		n.metrics.IngestTotal.WithLabelValues("rejected").Inc()
		n.logger.Warn("page url too long, delivery consumed without applying", "sender", req.SenderID, "seq", req.Seq, "url_length", len(req.Page.URL))
		return proto.IngestPageReply{Missing: out.Missing}, nil
	}
	n.applyPage(req.Page, req.Links)
	n.metrics.IngestTotal.WithLabelValues("applied").Inc()
	n.logger.Debug("page applied", "sender", req.SenderID, "seq", req.Seq, "url", req.Page.URL, "links", len(req.Links))
	return proto.IngestPageReply{Applied: true, Missing: out.Missing}, nil
}

func (n *Node) applyPage(page proto.PageRecord, outbound []string) {
	n.publishMu.Lock()
	prev, replaced := n.pages.Put(page)
	if replaced {
		n.index.Remove(page.URL, prev.Words)
	}
	n.index.Add(page.URL, page.Words)
	n.filter.Add(page.URL)
	n.publishMu.Unlock()

	for _, target := range outbound {
		if target == "" || len(target) > proto.MaxURLLength {
			continue
		}
		n.links.AddEdge(page.URL, target)
		n.enqueue(target)
	}
	n.metrics.PagesStored.Set(float64(n.pages.Len()))
}

// enqueue inserts url into the frontier unless it is already known. The page
// table is the exact check; the filter test-and-add makes concurrent inserts
// of the same URL race to a single winner.
func (n *Node) enqueue(url string) bool {
	if len(url) > proto.MaxURLLength || n.pages.Has(url) {
		return false
	}
	if n.filter.TestAndAdd(url) {
		return false
	}
	n.frontier.Push(url)
	n.metrics.FrontierSize.Set(float64(n.frontier.Len()))
	return true
}

// EnqueueURL is the untracked, filter-gated frontier insert.
func (n *Node) EnqueueURL(url string) (bool, error) {
	if url == "" || len(url) > proto.MaxURLLength {
		return false, apperrors.ErrInvalidInput
	}
	n.exportMu.RLock()
	defer n.exportMu.RUnlock()
	inserted := n.enqueue(url)
	n.countEnqueue(inserted, proto.ReasonAlreadyKnown)
	return inserted, nil
}

// EnqueueURLTracked is EnqueueURL behind the same duplicate and gap handling
// as IngestPage.
func (n *Node) EnqueueURLTracked(req proto.EnqueueURLTrackedRequest) (proto.EnqueueURLTrackedReply, error) {
	if req.URL == "" || req.SenderID == "" || req.Seq < 0 {
		return proto.EnqueueURLTrackedReply{}, apperrors.ErrInvalidInput
	}
	n.exportMu.RLock()
	defer n.exportMu.RUnlock()

	out := n.tracker.Observe(req.SenderID, req.Seq)
	if out.Duplicate {
		n.countEnqueue(false, proto.ReasonDuplicateSequence)
		return proto.EnqueueURLTrackedReply{Reason: proto.ReasonDuplicateSequence}, nil
	}
	n.requestMissing(req.SenderID, req.SenderAddr, out.Missing)

	reply := proto.EnqueueURLTrackedReply{Missing: out.Missing}
	switch {
	case len(req.URL) > proto.MaxURLLength:
		reply.Reason = proto.ReasonURLTooLong
	case n.enqueue(req.URL):
		reply.Inserted = true
	default:
		reply.Reason = proto.ReasonAlreadyKnown
	}
	n.countEnqueue(reply.Inserted, reply.Reason)
	return reply, nil
}

func (n *Node) countEnqueue(inserted bool, reason string) {
	if inserted {
		n.metrics.EnqueueTotal.WithLabelValues("inserted").Inc()
		return
	}
	n.metrics.EnqueueTotal.WithLabelValues(reason).Inc()
}

// DequeueURL pops the oldest frontier URL without blocking.
func (n *Node) DequeueURL() (string, bool) {
	n.exportMu.RLock()
	defer n.exportMu.RUnlock()
	url, ok := n.frontier.Pop()
	if ok {
		n.metrics.FrontierSize.Set(float64(n.frontier.Len()))
	}
	return url, ok
}

func (n *Node) requestMissing(senderID, senderAddr string, missing []int64) {
	if len(missing) == 0 {
		return
	}
	n.metrics.GapsDetectedTotal.Inc()
	n.logger.Info("sequence gap detected", "sender", senderID, "missing", len(missing), "first", missing[0])
	if n.resender == nil || senderAddr == "" {
		return
	}
	n.resends.Add(1)
	go func() {
		defer n.resends.Done()
		n.resender.RequestResend(senderID, senderAddr, missing)
	}()
}

// WaitResends blocks until every resend request issued so far has finished.
func (n *Node) WaitResends() {
	n.resends.Wait()
}

// Search returns the pages containing every term, most linked-to first.
func (n *Node) Search(terms []string) []proto.PageRecord {
	start := time.Now()
	defer n.recordSearch(start)

	normalized := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		return []proto.PageRecord{}
	}

	n.publishMu.RLock()
	urls := n.index.Intersect(normalized)
	results := make([]proto.PageRecord, 0, len(urls))
	for _, url := range urls {
		if page, ok := n.pages.Get(url); ok {
			results = append(results, page)
		}
	}
	n.publishMu.RUnlock()

	degree := make(map[string]int, len(results))
	for _, page := range results {
		degree[page.URL] = n.links.InDegree(page.URL)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return degree[results[i].URL] > degree[results[j].URL]
	})
	return results
}

func (n *Node) recordSearch(start time.Time) {
	elapsed := time.Since(start)
	n.searches.Add(1)
	n.searchNanos.Add(int64(elapsed))
	n.metrics.NodeSearchLatency.Observe(elapsed.Seconds())
}

// InLinks lists the pages linking to url.
func (n *Node) InLinks(url string) []string {
	return n.links.Sources(url)
}

// ResetSender forgets all sequence state for senderID.
func (n *Node) ResetSender(senderID string) {
	n.tracker.Reset(senderID)
	n.logger.Info("sender state reset", "sender", senderID)
}

// SenderState returns the sequence state held for senderID.
func (n *Node) SenderState(senderID string) proto.SenderState {
	return n.tracker.State(senderID)
}

// Stats reports the node's size and average search latency.
func (n *Node) Stats() proto.NodeStats {
	st := proto.NodeStats{
		Name:     n.name,
		Pages:    n.pages.Len(),
		Terms:    n.index.Len(),
		Frontier: n.frontier.Len(),
		Searches: n.searches.Load(),
	}
	if st.Searches > 0 {
		st.AvgLatencyMs = float64(n.searchNanos.Load()) / float64(st.Searches) / float64(time.Millisecond)
	}
	return st
}

// Export copies the requested parts (every replica part when parts is empty)
// at a single point in time.
func (n *Node) Export(parts []string) (proto.Snapshot, error) {
	if len(parts) == 0 {
		parts = proto.ReplicaParts
	}
	n.exportMu.Lock()
	defer n.exportMu.Unlock()

	var snap proto.Snapshot
	for _, part := range parts {
		switch part {
		case proto.PartPages:
			snap.Pages = n.pages.Snapshot()
		case proto.PartAdjacency:
			snap.Adjacency = n.links.Snapshot()
		case proto.PartInverted:
			snap.Inverted = n.index.Snapshot()
		case proto.PartSenders:
			snap.Senders = n.tracker.Snapshot()
		case proto.PartFilter:
			blob, err := n.filter.MarshalBinary()
			if err != nil {
				return proto.Snapshot{}, err
			}
			snap.Filter = blob
		case proto.PartFrontier:
			snap.Frontier = n.frontier.Snapshot()
		default:
			return proto.Snapshot{}, fmt.Errorf("unknown snapshot part %q: %w", part, apperrors.ErrInvalidInput)
		}
	}
	return snap, nil
}

// Install replaces the node's state with snap. Nil parts become empty. A
// missing filter blob is rebuilt from every URL the snapshot knows. A filter
// blob that does not decode fails the install before any table changes.
func (n *Node) Install(snap proto.Snapshot) error {
	var decoded *bloom.BloomFilter
	if len(snap.Filter) > 0 {
		bf, err := decodeFilter(snap.Filter)
		if err != nil {
			return err
		}
		decoded = bf
	}

	n.exportMu.Lock()
	defer n.exportMu.Unlock()
	n.publishMu.Lock()
	defer n.publishMu.Unlock()

	n.pages.Restore(snap.Pages)
	n.index.Restore(snap.Inverted)
	n.links.Restore(snap.Adjacency)
	n.tracker.Restore(snap.Senders)
	n.frontier.Restore(snap.Frontier)

	if decoded != nil {
		n.filter.replace(decoded)
	} else {
		keys := n.pages.URLs()
		keys = append(keys, n.links.Targets()...)
		keys = append(keys, snap.Frontier...)
		n.filter.Rebuild(keys)
	}

	n.metrics.PagesStored.Set(float64(n.pages.Len()))
	n.metrics.FrontierSize.Set(float64(n.frontier.Len()))
	return nil
}

// Flush persists a full local snapshot, frontier included.
func (n *Node) Flush() error {
	if n.store == nil {
		return nil
	}
	snap, err := n.Export(append(append([]string{}, proto.ReplicaParts...), proto.PartFrontier))
	if err != nil {
		n.metrics.SnapshotFlushTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("exporting snapshot: %w", err)
	}
	if err := n.store.Save(snap); err != nil {
		n.metrics.SnapshotFlushTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("saving snapshot: %w", err)
	}
	n.metrics.SnapshotFlushTotal.WithLabelValues("ok").Inc()
	n.logger.Debug("snapshot flushed", "pages", len(snap.Pages), "frontier", len(snap.Frontier))
	return nil
}

// StartFlushLoop flushes every interval until ctx is done. It does not
// flush on the way out: the final snapshot belongs to Drain, after traffic
// has stopped.
func (n *Node) StartFlushLoop(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := n.Flush(); err != nil {
					n.logger.Error("periodic flush failed", "error", err)
				}
			}
		}
	}()
	return done
}

// Drain runs stopServing, waits for the flush loop to exit and writes the
// final snapshot. Every delivery that completed before stopServing returned
// is in that snapshot.
func (n *Node) Drain(stopServing func(), flushDone <-chan struct{}) error {
	stopServing()
	<-flushDone
	if err := n.Flush(); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	n.logger.Info("final snapshot written")
	return nil
}
