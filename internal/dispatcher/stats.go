package dispatcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

// termCounter counts how often each query term was searched.
type termCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	total  int64
}

func newTermCounter() *termCounter {
	return &termCounter{counts: make(map[string]int64)}
}

func (c *termCounter) Add(terms []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range terms {
		c.counts[t]++
	}
	c.total++
}

// Top returns the n most searched terms, ties broken alphabetically.
func (c *termCounter) Top(n int) []proto.TermCount {
	c.mu.Lock()
	result := make([]proto.TermCount, 0, len(c.counts))
	for term, count := range c.counts {
		result = append(result, proto.TermCount{Term: term, Count: count})
	}
	c.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Term < result[j].Term
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

func (c *termCounter) Searches() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Stats asks every node for its own figures and merges them with what the
// dispatcher observed. Unreachable nodes are listed with Reachable false.
func (d *Dispatcher) Stats(ctx context.Context) proto.StatsReply {
	reply := proto.StatsReply{
		Nodes:    make([]proto.NodeStatus, len(d.targets)),
		TopTerms: d.terms.Top(d.topN),
	}
	var wg sync.WaitGroup
	for i, t := range d.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply.Nodes[i] = d.nodeStatus(t)
		}()
	}
	wg.Wait()
	return reply
}

func (d *Dispatcher) nodeStatus(t *target) proto.NodeStatus {
	status := proto.NodeStatus{Name: t.name, Addr: t.addr, Circuit: t.breaker.GetState().String()}
	if c, err := d.handle(t); err == nil {
		began := time.Now()
		st, err := c.Stats()
		if err != nil {
			d.drop(t, c)
			d.metrics.DispatchCallsTotal.WithLabelValues("stats", t.name, "error").Inc()
		} else {
			t.observe(time.Since(began))
			d.metrics.DispatchCallsTotal.WithLabelValues("stats", t.name, "ok").Inc()
			status.Reachable = true
			status.Stats = st
		}
	} else {
		d.metrics.DispatchCallsTotal.WithLabelValues("stats", t.name, "unreachable").Inc()
	}
	status.Calls = t.calls.Load()
	if status.Calls > 0 {
		status.ObservedLatencyMs = float64(t.latencyNanos.Load()) / float64(status.Calls) / float64(time.Millisecond)
	}
	return status
}
