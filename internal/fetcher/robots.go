package fetcher

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/benjaminestes/robots"
)

// robotsCache holds parsed robots.txt files by their URL. A nil entry means
// the file could not be fetched and the host is treated as unrestricted.
type robotsCache struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	rules map[string]*robots.Robots
}

func newRobotsCache(client *http.Client, userAgent string) *robotsCache {
	return &robotsCache{
		client:    client,
		userAgent: userAgent,
		rules:     make(map[string]*robots.Robots),
	}
}

// allowed reports whether the user agent may fetch pageURL.
func (c *robotsCache) allowed(ctx context.Context, pageURL string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("panic in robots.txt parsing, assuming allowed", "url", pageURL, "panic", r)
			ok = true
		}
	}()

	robotsURL, err := robots.Locate(pageURL)
	if err != nil {
		return true
	}

	c.mu.Lock()
	r, cached := c.rules[robotsURL]
	c.mu.Unlock()
	if !cached {
		r, err = c.get(ctx, robotsURL)
		if err != nil {
			slog.Warn("failed to fetch robots.txt", "url", robotsURL, "error", err)
			r = nil
		}
		c.mu.Lock()
		c.rules[robotsURL] = r
		c.mu.Unlock()
	}
	if r == nil {
		return true
	}
	return r.Test(c.userAgent, pageURL)
}

func (c *robotsCache) get(ctx context.Context, robotsURL string) (*robots.Robots, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, err
	}
	return robots.From(resp.StatusCode, bytes.NewReader(body))
}
