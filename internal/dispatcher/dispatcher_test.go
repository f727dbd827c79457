package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/node"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

const dispatcherAddr = "dispatcher:7200"

type cluster struct {
	net        *rpc.Network
	nodes      map[string]*node.Node
	dispatcher *Dispatcher
}

func newCluster(t *testing.T, opts Options, names ...string) *cluster {
	t.Helper()
	c := &cluster{net: rpc.NewNetwork(), nodes: make(map[string]*node.Node)}
	for _, name := range names {
		addr := name + ":7000"
		resender := node.NewRemoteResender(c.net, name, addr, nil)
		t.Cleanup(resender.Close)
		n := node.New(node.Options{Name: name, Addr: addr, Resender: resender})
		srv := rpc.NewServer()
		node.Register(srv, n)
		c.net.Attach(addr, srv)
		c.nodes[name] = n
		opts.Nodes = append(opts.Nodes, config.Endpoint{Name: name, Addr: addr})
	}
	opts.Name = "dispatcher"
	opts.Addr = dispatcherAddr
	opts.Connector = c.net
	if opts.ResendDelay == 0 {
		opts.ResendDelay = time.Millisecond
	}
	c.dispatcher = New(opts)
	srv := rpc.NewServer()
	Register(srv, c.dispatcher)
	c.net.Attach(dispatcherAddr, srv)
	t.Cleanup(c.dispatcher.Close)
	return c
}

// index stores the same pages on every node, as the driver would.
func (c *cluster) index(t *testing.T, pages ...proto.PageRecord) {
	t.Helper()
	for _, n := range c.nodes {
		for i, p := range pages {
			_, err := n.IngestPage(proto.IngestPageRequest{
				Seq: int64(i), Page: p, SenderID: "driver-1", SenderAddr: "driver-1:6000",
			})
			if err != nil {
				t.Fatalf("IngestPage: %v", err)
			}
		}
	}
}

func page(url string, words ...string) proto.PageRecord {
	return proto.PageRecord{Title: url, URL: url, Words: words, Snippet: "snippet."}
}

func TestSearchRotatesAcrossNodes(t *testing.T) {
	c := newCluster(t, Options{}, "a", "b")
	c.index(t, page("http://x", "go"))

	var served []string
	for i := 0; i < 4; i++ {
		reply, err := c.dispatcher.Search(context.Background(), "go")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(reply.Results) != 1 {
			t.Fatalf("results = %v", reply.Results)
		}
		served = append(served, reply.Node)
	}
	if want := []string{"a", "b", "a", "b"}; !reflect.DeepEqual(served, want) {
		t.Errorf("served by %v, want %v", served, want)
	}
}

func TestSearchFailsOverToLiveNode(t *testing.T) {
	c := newCluster(t, Options{}, "a", "b")
	c.index(t, page("http://x", "go"))
	c.net.Detach("a:7000")

	for i := 0; i < 10; i++ {
		reply, err := c.dispatcher.Search(context.Background(), "go")
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if reply.Node != "b" {
			t.Errorf("search %d served by %q, want b", i, reply.Node)
		}
	}
}

func TestSearchWithNoNodes(t *testing.T) {
	c := newCluster(t, Options{}, "a", "b")
	c.net.Detach("a:7000")
	c.net.Detach("b:7000")

	_, err := c.dispatcher.Search(context.Background(), "go")
	if !errors.Is(err, apperrors.ErrNoNodesAvailable) {
		t.Fatalf("error = %v, want ErrNoNodesAvailable", err)
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusServiceUnavailable {
		t.Errorf("status = %d", got)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	c := newCluster(t, Options{}, "a")
	if _, err := c.dispatcher.Search(context.Background(), "  !! "); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestOpenCircuitSkipsNode(t *testing.T) {
	c := newCluster(t, Options{BreakerThreshold: 1, BreakerReset: time.Hour}, "a", "b")
	c.index(t, page("http://x", "go"))
	c.net.Detach("a:7000")

	c.dispatcher.Search(context.Background(), "go") // trips a's breaker
	c.net.Attach("a:7000", rpc.NewServer())
	before := c.net.Calls()
	for i := 0; i < 4; i++ {
		if reply, err := c.dispatcher.Search(context.Background(), "go"); err != nil || reply.Node != "b" {
			t.Fatalf("search = %+v, %v", reply, err)
		}
	}
	if got := c.net.Calls() - before; got != 4 {
		t.Errorf("delivered %d calls, want 4 (a skipped while open)", got)
	}
	if st := c.dispatcher.Stats(context.Background()); st.Nodes[0].Circuit != "open" {
		t.Errorf("circuit = %q, want open", st.Nodes[0].Circuit)
	}
}

func TestAddURLReachesEveryNode(t *testing.T) {
	c := newCluster(t, Options{}, "a", "b")
	ctx := context.Background()

	reply, err := c.dispatcher.AddURL(ctx, "HTTP://Example.com/page")
	if err != nil {
		t.Fatalf("AddURL: %v", err)
	}
	if reply.Seq != 0 || !reflect.DeepEqual(reply.AcceptedBy, []string{"a", "b"}) {
		t.Errorf("reply = %+v", reply)
	}
	for name, n := range c.nodes {
		u, ok := n.DequeueURL()
		if !ok || u != "http://example.com/page" {
			t.Errorf("node %s dequeued %q, %v", name, u, ok)
		}
	}

	_, err = c.dispatcher.AddURL(ctx, "http://example.com/page")
	if !errors.Is(err, apperrors.ErrRejectedByAll) {
		t.Fatalf("second AddURL error = %v, want ErrRejectedByAll", err)
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusConflict {
		t.Errorf("status = %d", got)
	}
}

func TestAddURLErrors(t *testing.T) {
	c := newCluster(t, Options{}, "a")
	ctx := context.Background()

	for _, raw := range []string{"", "ftp://example.com", "/relative", "http://", "http://example.com/" + strings.Repeat("x", proto.MaxURLLength)} {
		if _, err := c.dispatcher.AddURL(ctx, raw); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("AddURL(%q) error = %v, want ErrInvalidInput", raw, err)
		}
	}

	c.net.Detach("a:7000")
	if _, err := c.dispatcher.AddURL(ctx, "http://example.com"); !errors.Is(err, apperrors.ErrNoNodesAvailable) {
		t.Errorf("error = %v, want ErrNoNodesAvailable", err)
	}
}

func TestFirstContactResetsSenderState(t *testing.T) {
	c := newCluster(t, Options{}, "a")
	// State left behind by a previous dispatcher process.
	c.nodes["a"].EnqueueURLTracked(proto.EnqueueURLTrackedRequest{
		URL: "http://old", Seq: 0, SenderID: "dispatcher", SenderAddr: dispatcherAddr,
	})

	reply, err := c.dispatcher.AddURL(context.Background(), "http://new")
	if err != nil || reply.Seq != 0 {
		t.Fatalf("AddURL = %+v, %v", reply, err)
	}
	if st := c.nodes["a"].SenderState("dispatcher"); st.Expected != 1 {
		t.Errorf("expected = %d, want 1", st.Expected)
	}
}

func TestResendRepairsMissedSubmission(t *testing.T) {
	c := newCluster(t, Options{}, "a", "b")
	ctx := context.Background()

	c.net.SetFault(func(addr, method string) error {
		if addr == "a:7000" && method == proto.MethodEnqueueURLTracked {
			return errors.New("connection reset")
		}
		return nil
	})
	if _, err := c.dispatcher.AddURL(ctx, "http://first"); err != nil {
		t.Fatalf("AddURL(first): %v", err)
	}
	c.net.SetFault(nil)
	if _, err := c.dispatcher.AddURL(ctx, "http://second"); err != nil {
		t.Fatalf("AddURL(second): %v", err)
	}
	c.nodes["a"].WaitResends()

	a := c.nodes["a"]
	if st := a.SenderState("dispatcher"); st.Expected != 2 {
		t.Errorf("node a expected = %d after resend, want 2", st.Expected)
	}
	var got []string
	for {
		u, ok := a.DequeueURL()
		if !ok {
			break
		}
		got = append(got, u)
	}
	if len(got) != 2 {
		t.Errorf("node a frontier = %v, want both submissions", got)
	}
}

func TestResendHistoryMiss(t *testing.T) {
	c := newCluster(t, Options{}, "a")
	reply, err := c.dispatcher.Resend(context.Background(), proto.ResendRequest{Seq: 7, Requester: "a", RequesterAddr: "a:7000"})
	if err != nil || reply.Found {
		t.Errorf("Resend = %+v, %v", reply, err)
	}
	if _, err := c.dispatcher.Resend(context.Background(), proto.ResendRequest{Seq: 7}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("Resend without address error = %v", err)
	}
}

func TestResendGivesUpOnUnreachableRequester(t *testing.T) {
	c := newCluster(t, Options{ResendAttempts: 2}, "a")
	ctx := context.Background()
	if _, err := c.dispatcher.AddURL(ctx, "http://x"); err != nil {
		t.Fatalf("AddURL: %v", err)
	}
	reply, err := c.dispatcher.Resend(ctx, proto.ResendRequest{Seq: 0, Requester: "gone", RequesterAddr: "gone:7000"})
	if err != nil || !reply.Found || reply.Delivered {
		t.Errorf("Resend = %+v, %v", reply, err)
	}
}

func TestInLinks(t *testing.T) {
	c := newCluster(t, Options{}, "a")
	_, err := c.nodes["a"].IngestPage(proto.IngestPageRequest{
		Seq: 0, Page: page("http://src", "w"), Links: []string{"http://example.com/target"},
		SenderID: "driver-1", SenderAddr: "driver-1:6000",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.dispatcher.InLinks(context.Background(), "HTTP://EXAMPLE.com/target")
	if err != nil || !reflect.DeepEqual(got, []string{"http://src"}) {
		t.Errorf("InLinks = %v, %v", got, err)
	}
	got, err = c.dispatcher.InLinks(context.Background(), "http://nobody-links-here")
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("InLinks(unlinked) = %#v, %v", got, err)
	}
	if _, err := c.dispatcher.InLinks(context.Background(), " "); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("InLinks(blank) error = %v", err)
	}
}

func TestStatsTopTermsAndNodes(t *testing.T) {
	c := newCluster(t, Options{TopTerms: 2}, "a", "b")
	c.index(t, page("http://x", "go", "crawler", "search"))
	ctx := context.Background()
	for _, q := range []string{"go crawler", "Go", "go search", "search"} {
		if _, err := c.dispatcher.Search(ctx, q); err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
	}
	c.net.Detach("b:7000")

	st := c.dispatcher.Stats(ctx)
	want := []proto.TermCount{{Term: "go", Count: 3}, {Term: "search", Count: 2}}
	if !reflect.DeepEqual(st.TopTerms, want) {
		t.Errorf("top terms = %v, want %v", st.TopTerms, want)
	}
	if len(st.Nodes) != 2 {
		t.Fatalf("nodes = %v", st.Nodes)
	}
	a, b := st.Nodes[0], st.Nodes[1]
	if !a.Reachable || a.Stats.Pages != 1 || a.Calls == 0 {
		t.Errorf("node a status = %+v", a)
	}
	if b.Reachable {
		t.Errorf("node b reported reachable after detach: %+v", b)
	}
}

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func TestSearchServedFromCache(t *testing.T) {
	cache := NewRedisCache(newMemKV(), time.Minute)
	c := newCluster(t, Options{Cache: cache}, "a")
	c.index(t, page("http://x", "go", "crawler"))
	ctx := context.Background()

	first, err := c.dispatcher.Search(ctx, "go crawler")
	if err != nil || first.Cached {
		t.Fatalf("first search = %+v, %v", first, err)
	}
	before := c.net.Calls()
	second, err := c.dispatcher.Search(ctx, "crawler GO")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || len(second.Results) != 1 {
		t.Errorf("second search = %+v, want cached hit", second)
	}
	if c.net.Calls() != before {
		t.Error("cached search reached a node")
	}
	if _, ok := cache.Get(ctx, "crawler go"); !ok {
		t.Error("results not cached under the sorted term key")
	}
}

func TestRemoteClient(t *testing.T) {
	c := newCluster(t, Options{}, "a")
	c.index(t, page("http://x", "go"))
	conn, err := c.net.Connect(dispatcherAddr)
	if err != nil {
		t.Fatal(err)
	}
	client := NewClient(conn)
	defer client.Close()

	reply, err := client.Search("go")
	if err != nil || len(reply.Results) != 1 {
		t.Errorf("Search = %+v, %v", reply, err)
	}
	if _, err := client.AddURL("http://y"); err != nil {
		t.Errorf("AddURL: %v", err)
	}
	if _, err := client.AddURL("http://y"); err == nil {
		t.Error("duplicate AddURL over RPC succeeded")
	}
	st, err := client.Stats()
	if err != nil || len(st.Nodes) != 1 || st.TopTerms[0].Term != "go" {
		t.Errorf("Stats = %+v, %v", st, err)
	}
}

func TestSlowSearchLogsSpanTree(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	c := newCluster(t, Options{SlowQuery: time.Nanosecond}, "a", "b")
	c.index(t, page("http://x", "go"))
	c.net.Detach("a:7000")

	if _, err := c.dispatcher.Search(context.Background(), "go"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"span=search", "depth=1 node=a outcome=unreachable", "depth=1 node=b outcome=ok"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}
