// Package events streams crawl and search activity to Kafka.
package events

import "time"

type EventType string

const (
	EventPageIndexed EventType = "page_indexed"
	EventSearch      EventType = "search"
	EventURLAdded    EventType = "url_added"
)

// PageIndexedEvent is emitted by a driver after a fetched page was pushed.
type PageIndexedEvent struct {
	Type      EventType `json:"type"`
	Driver    string    `json:"driver"`
	URL       string    `json:"url"`
	Seq       int64     `json:"seq"`
	Words     int       `json:"words"`
	Links     int       `json:"links"`
	Nodes     []string  `json:"nodes"`
	FetchMs   int64     `json:"fetch_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// SearchEvent is emitted by the dispatcher for every answered query.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	Node      string    `json:"node"`
	Results   int       `json:"results"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// URLAddedEvent is emitted by the dispatcher for each accepted submission.
type URLAddedEvent struct {
	Type       EventType `json:"type"`
	URL        string    `json:"url"`
	Seq        int64     `json:"seq"`
	AcceptedBy []string  `json:"accepted_by"`
	Timestamp  time.Time `json:"timestamp"`
}

// TypeOf reports the type carried by a known event, or "" for anything else.
func TypeOf(event any) EventType {
	switch e := event.(type) {
	case PageIndexedEvent:
		return e.Type
	case SearchEvent:
		return e.Type
	case URLAddedEvent:
		return e.Type
	}
	return ""
}

// Tracker accepts events without blocking the caller.
type Tracker interface {
	Track(event any)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Track(any) {}
