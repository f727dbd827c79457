package dispatcher

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/proto"
)

// Handler serves the dispatcher over HTTP.
//
//	GET  /api/v1/search?q=...&page=N   paged results
//	POST /api/v1/urls                  {"url": "..."}
//	GET  /api/v1/inlinks?url=...
//	GET  /api/v1/stats
//	GET  /api/v1/stats/history?limit=N (when a stats store is configured)
type Handler struct {
	dispatcher *Dispatcher
	store      *StatsStore
	pageSize   int
	logger     *slog.Logger
}

// SearchPage is one page of a search response.
type SearchPage struct {
	Query   string             `json:"query"`
	Terms   []string           `json:"terms"`
	Node    string             `json:"node,omitempty"`
	Cached  bool               `json:"cached"`
	Total   int                `json:"total"`
	Page    int                `json:"page"`
	Pages   int                `json:"pages"`
	Results []proto.PageRecord `json:"results"`
}

// NewHandler pages search results pageSize at a time. store may be nil.
func NewHandler(d *Dispatcher, store *StatsStore, pageSize int) *Handler {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Handler{
		dispatcher: d,
		store:      store,
		pageSize:   pageSize,
		logger:     logger.WithComponent("dispatcher-handler"),
	}
}

// Routes registers the API on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/urls", h.AddURL)
	mux.HandleFunc("GET /api/v1/inlinks", h.InLinks)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/stats/history", h.StatsHistory)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = parsed
	}

	reply, err := h.dispatcher.Search(r.Context(), query)
	if err != nil {
		h.writeAppError(w, r, "search failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, Paginate(query, reply, page, h.pageSize))
}

// Paginate cuts one 1-based page out of a full reply. Pages past the end are
// empty.
func Paginate(query string, reply proto.QueryReply, page, size int) SearchPage {
	if size <= 0 {
		size = 10
	}
	page = max(page, 1)
	total := len(reply.Results)
	out := SearchPage{
		Query:   query,
		Terms:   reply.Terms,
		Node:    reply.Node,
		Cached:  reply.Cached,
		Total:   total,
		Page:    page,
		Pages:   (total + size - 1) / size,
		Results: []proto.PageRecord{},
	}
	start := (page - 1) * size
	if start < total {
		end := min(start+size, total)
		out.Results = reply.Results[start:end]
	}
	return out
}

func (h *Handler) AddURL(w http.ResponseWriter, r *http.Request) {
	var req proto.AddURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reply, err := h.dispatcher.AddURL(r.Context(), req.URL)
	if err != nil {
		h.writeAppError(w, r, "add url failed", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, reply)
}

func (h *Handler) InLinks(w http.ResponseWriter, r *http.Request) {
	sources, err := h.dispatcher.InLinks(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		h.writeAppError(w, r, "inlinks failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, proto.InLinksReply{Sources: sources})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.dispatcher.Stats(r.Context()))
}

func (h *Handler) StatsHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "stats history is disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	snaps, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.writeAppError(w, r, "listing stats history failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error(msg, "error", err)
	} else {
		log.Info(msg, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error(), "code": apperrors.Code(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
