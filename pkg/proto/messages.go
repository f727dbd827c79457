// Package proto defines the message types exchanged over the JSON-over-TCP
// RPC layer (see pkg/rpc) between storage nodes, fetch drivers and the
// dispatcher.
package proto

// ---------- Common ----------

// PageRecord is one fetched page as stored by a node. URL is the key.
type PageRecord struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Words   []string `json:"words"`
	Snippet string   `json:"snippet"`
}

// SenderState is the receiver-side sequence state for one sender. Every
// sequence below Expected has been received; Received lists the extra
// sequences seen above it.
type SenderState struct {
	Expected int64   `json:"expected"`
	Received []int64 `json:"received,omitempty"`
}

// MaxURLLength bounds every URL a node stores or keys a table by. Longer
// URLs are dropped or rejected where they enter the system.
const MaxURLLength = 2048

// Reasons an EnqueueURLTracked call can decline to insert.
const (
	ReasonDuplicateSequence = "duplicate_sequence"
	ReasonAlreadyKnown      = "already_known"
	ReasonURLTooLong        = "url_too_long"
)

// ---------- Node: ingestion ----------

// IngestPageRequest carries one sequenced page from a driver.
type IngestPageRequest struct {
	Seq        int64      `json:"seq"`
	Page       PageRecord `json:"page"`
	Links      []string   `json:"links"`
	SenderID   string     `json:"sender_id"`
	SenderAddr string     `json:"sender_addr"`
}

// IngestPageReply reports whether the page was applied or ignored as a
// duplicate, and which sequences the node has asked to be resent.
type IngestPageReply struct {
	Applied bool    `json:"applied"`
	Missing []int64 `json:"missing,omitempty"`
}

// EnqueueURLRequest is the untracked frontier insert.
type EnqueueURLRequest struct {
	URL string `json:"url"`
}

// EnqueueURLReply reports whether the URL entered the frontier.
type EnqueueURLReply struct {
	Inserted bool `json:"inserted"`
}

// EnqueueURLTrackedRequest is a sequenced frontier insert from a dispatcher.
type EnqueueURLTrackedRequest struct {
	URL        string `json:"url"`
	Seq        int64  `json:"seq"`
	SenderID   string `json:"sender_id"`
	SenderAddr string `json:"sender_addr"`
}

// EnqueueURLTrackedReply reports the outcome; Reason is empty on insert.
type EnqueueURLTrackedReply struct {
	Inserted bool    `json:"inserted"`
	Reason   string  `json:"reason,omitempty"`
	Missing  []int64 `json:"missing,omitempty"`
}

// DequeueURLReply holds the popped URL; OK is false when the frontier is empty.
type DequeueURLReply struct {
	URL string `json:"url,omitempty"`
	OK  bool   `json:"ok"`
}

// ResetSenderRequest clears the node's sequence state for one sender.
type ResetSenderRequest struct {
	SenderID string `json:"sender_id"`
}

// ---------- Node: queries ----------

// SearchRequest is the node-level AND query.
type SearchRequest struct {
	Terms []string `json:"terms"`
}

// SearchReply lists matching pages, most linked-to first.
type SearchReply struct {
	Results []PageRecord `json:"results"`
}

// InLinksRequest asks for the pages linking to URL.
type InLinksRequest struct {
	URL string `json:"url"`
}

// InLinksReply lists source URLs, unranked.
type InLinksReply struct {
	Sources []string `json:"sources"`
}

// NodeStats is a node's self-reported state.
type NodeStats struct {
	Name         string  `json:"name"`
	Pages        int     `json:"pages"`
	Terms        int     `json:"terms"`
	Frontier     int     `json:"frontier"`
	Searches     int64   `json:"searches"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// ---------- Node: replication ----------

// Snapshot parts.
const (
	PartPages     = "pages"
	PartAdjacency = "adjacency"
	PartInverted  = "inverted"
	PartSenders   = "senders"
	PartFilter    = "filter"
	PartFrontier  = "frontier"
)

// ReplicaParts are the parts a bootstrapping node pulls from its peer.
var ReplicaParts = []string{PartPages, PartAdjacency, PartInverted, PartSenders, PartFilter}

// ExportRequest selects snapshot parts; empty means every replica part.
type ExportRequest struct {
	Parts []string `json:"parts,omitempty"`
}

// Snapshot is a point-in-time copy of a node's state. Parts that were not
// requested are nil.
type Snapshot struct {
	Pages     map[string]PageRecord  `json:"pages,omitempty"`
	Adjacency map[string][]string    `json:"adjacency,omitempty"`
	Inverted  map[string][]string    `json:"inverted,omitempty"`
	Senders   map[string]SenderState `json:"senders,omitempty"`
	Filter    []byte                 `json:"filter,omitempty"`
	Frontier  []string               `json:"frontier,omitempty"`
}

// ---------- Senders (driver, dispatcher) ----------

// ResendRequest asks a sender to redeliver Seq to the requesting node.
type ResendRequest struct {
	Seq           int64  `json:"seq"`
	Requester     string `json:"requester"`
	RequesterAddr string `json:"requester_addr"`
}

// ResendReply reports whether the sequence was in history and delivered.
type ResendReply struct {
	Found     bool `json:"found"`
	Delivered bool `json:"delivered"`
}

// NodeUpRequest is a node announcing it is ready to receive pages.
type NodeUpRequest struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// ---------- Dispatcher ----------

// QueryRequest is a free-text query submitted to the dispatcher.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryReply carries the normalized terms and the ranked results.
type QueryReply struct {
	Terms   []string     `json:"terms"`
	Node    string       `json:"node"`
	Cached  bool         `json:"cached"`
	Results []PageRecord `json:"results"`
}

// AddURLRequest submits a URL for crawling.
type AddURLRequest struct {
	URL string `json:"url"`
}

// AddURLReply reports the assigned sequence and the accepting nodes.
type AddURLReply struct {
	Seq        int64    `json:"seq"`
	AcceptedBy []string `json:"accepted_by"`
}

// TermCount is one entry of the top query terms.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// NodeStatus merges what a node reports with what the dispatcher observed.
type NodeStatus struct {
	Name              string    `json:"name"`
	Addr              string    `json:"addr"`
	Reachable         bool      `json:"reachable"`
	Circuit           string    `json:"circuit"`
	Stats             NodeStats `json:"stats"`
	Calls             int64     `json:"calls"`
	ObservedLatencyMs float64   `json:"observed_latency_ms"`
}

// StatsReply is the dispatcher's aggregated view.
type StatsReply struct {
	Nodes    []NodeStatus `json:"nodes"`
	TopTerms []TermCount  `json:"top_terms"`
}
