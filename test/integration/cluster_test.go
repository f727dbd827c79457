//go:build integration

// Package integration runs a whole cluster in one process over real TCP:
// two storage nodes, a fetch driver crawling an httptest site, and a
// dispatcher answering queries.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/driver"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/fetcher"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/node"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

var connector rpc.TCPConnector

// listen reserves a loopback port so a process knows the address it
// advertises before its server starts.
func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func serve(t *testing.T, s *rpc.Server, ln net.Listener) {
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)
}

func startNode(t *testing.T, name string, bootstrap *node.BootstrapConfig) (*node.Node, *rpc.Server, string) {
	t.Helper()
	ln := listen(t)
	addr := ln.Addr().String()
	resender := node.NewRemoteResender(connector, name, addr, nil)
	t.Cleanup(resender.Close)
	n := node.New(node.Options{Name: name, Addr: addr, Resender: resender})
	if bootstrap != nil {
		if _, err := node.Bootstrap(n, *bootstrap); err != nil {
			t.Fatalf("bootstrap %s: %v", name, err)
		}
	}
	srv := rpc.NewServer()
	node.Register(srv, n)
	serve(t, srv, ln)
	return n, srv, addr
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	html := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/{$}", html(`<html><head><title>Home</title></head><body>
		<p>Gopher home page.</p><a href="/a">A</a> <a href="/b">B</a> <a href="/private">P</a></body></html>`))
	mux.HandleFunc("/a", html(`<html><head><title>A</title></head><body>
		<p>Gopher notes about channels.</p><a href="/b">B</a></body></html>`))
	mux.HandleFunc("/b", html(`<html><head><title>B</title></head><body>
		<p>Gopher notes about goroutines.</p></body></html>`))
	mux.HandleFunc("/private", html(`<html><body>Gopher secrets.</body></html>`))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCrawlReplicateAndSearch(t *testing.T) {
	site := newSite(t)
	n1, _, addr1 := startNode(t, "node-1", nil)
	n2, srv2, addr2 := startNode(t, "node-2", nil)
	nodes := []config.Endpoint{{Name: "node-1", Addr: addr1}, {Name: "node-2", Addr: addr2}}

	driverLn := listen(t)
	d := driver.New(driver.Options{
		Name:         "driver-1",
		Addr:         driverLn.Addr().String(),
		Nodes:        nodes,
		Connector:    connector,
		Fetcher:      fetcher.New(fetcher.Options{Timeout: 2 * time.Second, RespectRobots: true}),
		Workers:      2,
		IdleBackoff:  20 * time.Millisecond,
		EmptyBackoff: 20 * time.Millisecond,
		SeedURLs:     []string{site.URL + "/"},
	})
	driverSrv := rpc.NewServer()
	driver.Register(driverSrv, d)
	serve(t, driverSrv, driverLn)
	t.Cleanup(d.Close)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-runDone
	})

	waitFor(t, "three pages on both nodes", func() bool {
		return n1.Stats().Pages == 3 && n2.Stats().Pages == 3
	})
	if s1, s2 := n1.SenderState("driver-1"), n2.SenderState("driver-1"); !reflect.DeepEqual(s1, s2) {
		t.Errorf("sender state diverged: %+v vs %+v", s1, s2)
	}

	dispLn := listen(t)
	disp := dispatcher.New(dispatcher.Options{
		Name:      "dispatcher",
		Addr:      dispLn.Addr().String(),
		Nodes:     nodes,
		Connector: connector,
	})
	t.Cleanup(disp.Close)
	dispSrv := rpc.NewServer()
	dispatcher.Register(dispSrv, disp)
	serve(t, dispSrv, dispLn)
	conn, err := rpc.Dial(dispLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	client := dispatcher.NewClient(conn)
	defer client.Close()

	reply, err := client.Search("gopher notes")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var got []string
	for _, r := range reply.Results {
		got = append(got, r.URL)
	}
	if want := []string{site.URL + "/b", site.URL + "/a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ranked results = %v, want %v", got, want)
	}

	sources, err := client.InLinks(site.URL + "/b")
	if err != nil || len(sources) != 2 {
		t.Errorf("InLinks(/b) = %v, %v", sources, err)
	}

	// A third node cloned from node-1 starts with the same pages.
	n3, _, _ := startNode(t, "node-3", &node.BootstrapConfig{PeerAddr: addr1, Connector: connector})
	if got := n3.Search([]string{"gopher"}); len(got) != 3 {
		t.Errorf("cloned node finds %d pages, want 3", len(got))
	}

	// Losing node-2 does not interrupt queries.
	srv2.Stop()
	for i := 0; i < 4; i++ {
		if reply, err := client.Search("gopher"); err != nil || reply.Node != "node-1" {
			t.Errorf("search after node-2 stopped = %+v, %v", reply.Node, err)
		}
	}
}
