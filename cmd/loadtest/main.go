// Command loadtest drives the dispatcher's HTTP API with a mix of searches
// and URL submissions and reports latency, cache and failover figures.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/dispatcher"
)

type options struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	maxPage     int
	addRatio    float64
	addHost     string
	queries     []string
}

type op string

const (
	opSearch op = "search"
	opAddURL op = "add-url"
)

type stats struct {
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	cached  atomic.Int64

	mu        sync.Mutex
	latencies map[op][]time.Duration
	codes     map[int]int64
	nodes     map[string]int64
}

func newStats() *stats {
	return &stats{
		latencies: make(map[op][]time.Duration),
		codes:     make(map[int]int64),
		nodes:     make(map[string]int64),
	}
}

func (s *stats) record(kind op, d time.Duration, code int, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		return
	}
	if code >= 200 && code < 300 {
		s.success.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.mu.Lock()
	s.latencies[kind] = append(s.latencies[kind], d)
	s.codes[code]++
	s.mu.Unlock()
}

func (s *stats) served(page dispatcher.SearchPage) {
	if page.Cached {
		s.cached.Add(1)
		return
	}
	s.mu.Lock()
	s.nodes[page.Node]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "dispatcher API base URL")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	maxPage := flag.Int("pages", 3, "request result pages 1..N")
	addRatio := flag.Float64("add-ratio", 0.05, "fraction of requests that submit a URL")
	addHost := flag.String("add-host", "http://localhost:8000", "site the submitted URLs point at")
	queryList := flag.String("queries", "", "comma separated queries (default built-in set)")
	flag.Parse()

	queries := []string{
		"replicated search",
		"crawl frontier",
		"sequence number",
		"gap repair",
		"round robin",
		"failover",
		"inverted index",
		"link graph",
		"robots exclusion",
		"bootstrap snapshot",
	}
	if *queryList != "" {
		queries = strings.Split(*queryList, ",")
	}

	opts := options{
		baseURL:     strings.TrimRight(*baseURL, "/"),
		concurrency: *concurrency,
		duration:    *duration,
		maxPage:     max(*maxPage, 1),
		addRatio:    *addRatio,
		addHost:     strings.TrimRight(*addHost, "/"),
		queries:     queries,
	}

	fmt.Println("=== Dispatcher Load Test ===")
	fmt.Printf("Target:      %s\n", opts.baseURL)
	fmt.Printf("Concurrency: %d\n", opts.concurrency)
	fmt.Printf("Duration:    %s\n", opts.duration)
	fmt.Printf("Queries:     %d unique, pages 1..%d\n", len(opts.queries), opts.maxPage)
	fmt.Printf("Add ratio:   %.2f\n", opts.addRatio)
	fmt.Println()

	s := run(opts)
	if !report(s, opts.duration) {
		os.Exit(1)
	}
}

func run(opts options) *stats {
	s := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	var wg sync.WaitGroup
	var submitted atomic.Int64

	for w := range opts.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := w
			for ctx.Err() == nil {
				if rand.Float64() < opts.addRatio {
					n := submitted.Add(1)
					addURL(ctx, client, opts, s, fmt.Sprintf("%s/load/%d", opts.addHost, n))
					continue
				}
				query := opts.queries[next%len(opts.queries)]
				next++
				search(ctx, client, opts, s, query, 1+rand.IntN(opts.maxPage))
			}
		}()
	}

	bar := progressbar.NewOptions64(max(int64(opts.duration/time.Second), 1),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Running"),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bar.Describe(fmt.Sprintf("Running (%d requests)", s.total.Load()))
				bar.Add(1)
			}
		}
	}()

	wg.Wait()
	bar.Finish()
	fmt.Println()
	return s
}

func search(ctx context.Context, client *http.Client, opts options, s *stats, query string, page int) {
	target := fmt.Sprintf("%s/api/v1/search?q=%s&page=%d", opts.baseURL, url.QueryEscape(query), page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		s.record(opSearch, 0, 0, err)
		return
	}
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.record(opSearch, elapsed, 0, err)
		}
		return
	}
	defer resp.Body.Close()

	s.record(opSearch, elapsed, resp.StatusCode, nil)
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return
	}
	var body dispatcher.SearchPage
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		s.served(body)
	}
}

func addURL(ctx context.Context, client *http.Client, opts options, s *stats, raw string) {
	payload, _ := json.Marshal(map[string]string{"url": raw})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/api/v1/urls", bytes.NewReader(payload))
	if err != nil {
		s.record(opAddURL, 0, 0, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.record(opAddURL, elapsed, 0, err)
		}
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	s.record(opAddURL, elapsed, resp.StatusCode, nil)
}

func report(s *stats, duration time.Duration) bool {
	total := s.total.Load()
	success := s.success.Load()
	failed := s.failed.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", failed)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range []op{opSearch, opAddURL} {
		latencies := s.latencies[kind]
		if len(latencies) == 0 {
			continue
		}
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			diff := float64(l - avg)
			sq += diff * diff
		}

		fmt.Println()
		fmt.Printf("=== Latency (%s, n=%d) ===\n", kind, len(latencies))
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
		fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	fmt.Println()
	fmt.Println("=== Served By ===")
	fmt.Printf("  cache: %d\n", s.cached.Load())
	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %d\n", name, s.nodes[name])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.codes[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the dispatcher running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
