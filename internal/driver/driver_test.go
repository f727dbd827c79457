package driver

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/node"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

const driverAddr = "driver-1:6000"

type fakeFetcher struct {
	mu    sync.Mutex
	links map[string][]string
	fail  map[string]bool
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (proto.PageRecord, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.fail[url] {
		return proto.PageRecord{}, nil, fmt.Errorf("%w: %s timed out", apperrors.ErrFetch, url)
	}
	return proto.PageRecord{
		Title:   "title " + url,
		URL:     url,
		Words:   []string{"common", url},
		Snippet: "snippet.",
	}, f.links[url], nil
}

type cluster struct {
	net    *rpc.Network
	nodes  map[string]*node.Node
	driver *Driver
}

func newCluster(t *testing.T, fetcher Fetcher, names ...string) *cluster {
	t.Helper()
	c := &cluster{net: rpc.NewNetwork(), nodes: make(map[string]*node.Node)}
	var endpoints []config.Endpoint
	for _, name := range names {
		addr := name + ":7000"
		resender := node.NewRemoteResender(c.net, name, addr, nil)
		t.Cleanup(resender.Close)
		n := node.New(node.Options{Name: name, Addr: addr, Resender: resender})
		srv := rpc.NewServer()
		node.Register(srv, n)
		c.net.Attach(addr, srv)
		c.nodes[name] = n
		endpoints = append(endpoints, config.Endpoint{Name: name, Addr: addr})
	}

	c.driver = New(Options{
		Name:         "driver-1",
		Addr:         driverAddr,
		Nodes:        endpoints,
		Connector:    c.net,
		Fetcher:      fetcher,
		IdleBackoff:  time.Millisecond,
		EmptyBackoff: time.Millisecond,
	})
	srv := rpc.NewServer()
	Register(srv, c.driver)
	c.net.Attach(driverAddr, srv)
	t.Cleanup(c.driver.Close)

	for _, name := range names {
		if err := c.driver.connect(name); err != nil {
			t.Fatalf("connect %s: %v", name, err)
		}
	}
	return c
}

func (c *cluster) failIngestOn(addr string) {
	c.net.SetFault(func(a, method string) error {
		if a == addr && method == proto.MethodIngestPage {
			return errors.New("connection reset")
		}
		return nil
	})
}

func TestStepPushesToEveryLiveNode(t *testing.T) {
	f := &fakeFetcher{links: map[string][]string{"http://seed": {"http://next"}}}
	c := newCluster(t, f, "a", "b")
	c.driver.Seed([]string{"http://seed"})

	if !c.driver.Step(context.Background()) {
		t.Fatal("Step processed nothing")
	}
	for name, n := range c.nodes {
		if got := n.Search([]string{"common"}); len(got) != 1 || got[0].URL != "http://seed" {
			t.Errorf("node %s search = %v", name, got)
		}
		if st := n.SenderState("driver-1"); st.Expected != 1 {
			t.Errorf("node %s expected = %d, want 1", name, st.Expected)
		}
		if got := n.InLinks("http://next"); !reflect.DeepEqual(got, []string{"http://seed"}) {
			t.Errorf("node %s inlinks = %v", name, got)
		}
	}
	if c.driver.NextSeq() != 1 {
		t.Errorf("next seq = %d, want 1", c.driver.NextSeq())
	}
}

func TestStepBacksOffOnEmptyFrontier(t *testing.T) {
	c := newCluster(t, &fakeFetcher{}, "a")
	if c.driver.Step(context.Background()) {
		t.Error("Step reported work on an empty frontier")
	}
}

func TestFetchFailureIsIsolated(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"http://bad": true}}
	c := newCluster(t, f, "a")
	c.driver.Seed([]string{"http://bad", "http://good"})

	c.driver.Step(context.Background())
	c.driver.Step(context.Background())

	if got := c.nodes["a"].Search([]string{"common"}); len(got) != 1 || got[0].URL != "http://good" {
		t.Errorf("search = %v, want only the good page", got)
	}
	if c.driver.NextSeq() != 1 {
		t.Errorf("failed fetch consumed a sequence number: next = %d", c.driver.NextSeq())
	}
}

func TestPushFailureDemotesNode(t *testing.T) {
	c := newCluster(t, &fakeFetcher{}, "a", "b")
	c.failIngestOn("b:7000")

	c.driver.process(context.Background(), "http://p0")
	if got := c.driver.Live(); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("live = %v, want [a]", got)
	}

	// Further pages only go to the live node.
	c.net.SetFault(nil)
	c.driver.process(context.Background(), "http://p1")
	if got := c.nodes["b"].Stats().Pages; got != 0 {
		t.Errorf("demoted node received %d pages", got)
	}
}

func TestNoLiveNodesIdles(t *testing.T) {
	c := newCluster(t, &fakeFetcher{}, "a")
	c.net.SetFault(func(addr, method string) error { return errors.New("down") })
	c.driver.Step(context.Background())
	if len(c.driver.Live()) != 0 {
		t.Fatal("node should be demoted after failed dequeue")
	}
	if c.driver.Step(context.Background()) {
		t.Error("Step worked with no live nodes")
	}
}

func TestNodeUpReconnectsWithoutReset(t *testing.T) {
	c := newCluster(t, &fakeFetcher{}, "a", "b")
	c.failIngestOn("b:7000")
	c.driver.process(context.Background(), "http://p0")

	var resets atomic.Int32
	c.net.SetFault(func(addr, method string) error {
		if method == proto.MethodResetSender {
			resets.Add(1)
		}
		return nil
	})
	if err := c.driver.NodeUp(proto.NodeUpRequest{Name: "b", Addr: "b:7000"}); err != nil {
		t.Fatalf("NodeUp: %v", err)
	}
	if got := c.driver.Live(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("live = %v", got)
	}
	if resets.Load() != 0 {
		t.Errorf("reconnect reset sender state %d times", resets.Load())
	}
}

func TestNodeUpAddsUnknownNode(t *testing.T) {
	c := newCluster(t, &fakeFetcher{}, "a")
	extra := node.New(node.Options{Name: "c"})
	srv := rpc.NewServer()
	node.Register(srv, extra)
	c.net.Attach("c:7000", srv)

	if err := c.driver.NodeUp(proto.NodeUpRequest{Name: "c", Addr: "c:7000"}); err != nil {
		t.Fatalf("NodeUp: %v", err)
	}
	c.driver.process(context.Background(), "http://p0")
	if extra.Stats().Pages != 1 {
		t.Error("announced node did not receive pushes")
	}
	if err := c.driver.NodeUp(proto.NodeUpRequest{}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty NodeUp error = %v", err)
	}
}

func TestGapIsRepairedThroughResend(t *testing.T) {
	c := newCluster(t, &fakeFetcher{}, "a", "b")
	ctx := context.Background()

	c.driver.process(ctx, "http://p0")
	c.failIngestOn("a:7000")
	c.driver.process(ctx, "http://p1") // lost on a
	c.net.SetFault(nil)

	if err := c.driver.NodeUp(proto.NodeUpRequest{Name: "a", Addr: "a:7000"}); err != nil {
		t.Fatalf("NodeUp: %v", err)
	}
	c.driver.process(ctx, "http://p2") // a sees the gap and asks for seq 1
	c.nodes["a"].WaitResends()

	a, b := c.nodes["a"], c.nodes["b"]
	if got := len(a.Search([]string{"common"})); got != 3 {
		t.Errorf("node a has %d pages after resend, want 3", got)
	}
	if sa, sb := a.SenderState("driver-1"), b.SenderState("driver-1"); !reflect.DeepEqual(sa, sb) || sa.Expected != 3 {
		t.Errorf("sender states diverged: a=%+v b=%+v", sa, sb)
	}
}

func TestResendFromHistory(t *testing.T) {
	c := newCluster(t, &fakeFetcher{}, "a")
	reply, err := c.driver.Resend(proto.ResendRequest{Seq: 42, Requester: "a", RequesterAddr: "a:7000"})
	if err != nil || reply.Found {
		t.Errorf("Resend(unknown) = %+v, %v", reply, err)
	}

	c.driver.process(context.Background(), "http://p0")
	reply, err = c.driver.Resend(proto.ResendRequest{Seq: 0, Requester: "a", RequesterAddr: "a:7000"})
	if err != nil || !reply.Found || !reply.Delivered {
		t.Errorf("Resend(0) = %+v, %v", reply, err)
	}
	if _, err := c.driver.Resend(proto.ResendRequest{Seq: 0}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Resend without address error = %v", err)
	}
}

func TestRepeatedResendIsIdempotent(t *testing.T) {
	f := &fakeFetcher{links: map[string][]string{"http://p1": {"http://next"}}}
	c := newCluster(t, f, "a", "b")
	ctx := context.Background()

	c.driver.process(ctx, "http://p0")
	c.failIngestOn("a:7000")
	c.driver.process(ctx, "http://p1") // lost on a
	c.net.SetFault(nil)

	req := proto.ResendRequest{Seq: 1, Requester: "a", RequesterAddr: "a:7000"}
	if reply, err := c.driver.Resend(req); err != nil || !reply.Found || !reply.Delivered {
		t.Fatalf("first Resend = %+v, %v", reply, err)
	}
	parts := append(append([]string{}, proto.ReplicaParts...), proto.PartFrontier)
	a := c.nodes["a"]
	before, err := a.Export(parts)
	if err != nil {
		t.Fatal(err)
	}
	if len(before.Pages) != 2 || before.Senders["driver-1"].Expected != 2 {
		t.Fatalf("after first resend: %d pages, sender %+v", len(before.Pages), before.Senders["driver-1"])
	}

	if reply, err := c.driver.Resend(req); err != nil || !reply.Found {
		t.Fatalf("second Resend = %+v, %v", reply, err)
	}
	after, err := a.Export(parts)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(after, before) {
		t.Error("second resend of the same sequence changed the node's state")
	}
	if got := a.Stats().Frontier; got != len(before.Frontier) {
		t.Errorf("frontier length = %d, want %d", got, len(before.Frontier))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{links: map[string][]string{"http://seed": {"http://a1", "http://a2"}}}
	c := newCluster(t, f, "a", "b")
	c.driver.seeds = []string{"http://seed"}
	c.driver.workers = 2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.driver.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.nodes["a"].Stats().Pages < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	for name, n := range c.nodes {
		if n.Stats().Pages != 3 {
			t.Errorf("node %s has %d pages, want 3", name, n.Stats().Pages)
		}
	}
}
