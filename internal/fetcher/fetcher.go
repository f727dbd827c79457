// Package fetcher downloads pages over HTTP and turns them into page records
// and outbound links for the fetch driver.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/internal/textproc"
	apperrors "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

const maxBodyBytes = 4 << 20

// Options configures an HTTPFetcher.
type Options struct {
	Timeout       time.Duration
	UserAgent     string
	RespectRobots bool
	Client        *http.Client
}

// HTTPFetcher fetches HTML pages. Every failure is returned wrapped in
// errors.ErrFetch.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	robots    *robotsCache
	logger    *slog.Logger
}

func New(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "rcs-crawler/1.0"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	f := &HTTPFetcher{
		client:    client,
		userAgent: opts.UserAgent,
		logger:    slog.Default().With("component", "fetcher"),
	}
	if opts.RespectRobots {
		f.robots = newRobotsCache(client, opts.UserAgent)
	}
	return f
}

// Fetch downloads rawURL and extracts its record and outbound links.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (proto.PageRecord, []string, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") {
		return proto.PageRecord{}, nil, fmt.Errorf("%w: unsupported url %q", apperrors.ErrFetch, rawURL)
	}
	if f.robots != nil && !f.robots.allowed(ctx, rawURL) {
		return proto.PageRecord{}, nil, fmt.Errorf("%w: %s disallowed by robots.txt", apperrors.ErrFetch, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return proto.PageRecord{}, nil, fmt.Errorf("%w: %v", apperrors.ErrFetch, err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return proto.PageRecord{}, nil, fmt.Errorf("%w: %v", apperrors.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return proto.PageRecord{}, nil, fmt.Errorf("%w: %s returned status %d", apperrors.ErrFetch, rawURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err != nil || mediaType != "text/html" {
			return proto.PageRecord{}, nil, fmt.Errorf("%w: %s is %q, not HTML", apperrors.ErrFetch, rawURL, ct)
		}
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return proto.PageRecord{}, nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrFetch, rawURL, err)
	}
	// Redirects change the base for relative links.
	if resp.Request != nil && resp.Request.URL != nil {
		pageURL = resp.Request.URL
	}
	d := extract(doc, pageURL)

	title := d.title
	if title == "" {
		title = rawURL
	}
	record := proto.PageRecord{
		Title:   title,
		URL:     rawURL,
		Words:   textproc.Words(d.text),
		Snippet: textproc.Snippet(d.text),
	}
	f.logger.Debug("page fetched", "url", rawURL, "words", len(record.Words), "links", len(d.links))
	return record, d.links, nil
}
