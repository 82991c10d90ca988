// Package handler exposes a searchable index over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termindex/internal/indexer/generation"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/termindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/termindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/termindex/pkg/tracing"
)

type Handler struct {
	mgr     *generation.Manager
	cache   *cache.QueryCache
	cfg     config.SearchConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds a handler over mgr. queryCache and m may be nil.
func New(mgr *generation.Manager, queryCache *cache.QueryCache, cfg config.SearchConfig, m *metrics.Metrics) *Handler {
	return &Handler{
		mgr:     mgr,
		cache:   queryCache,
		cfg:     cfg,
		metrics: m,
		logger:  logger.WithComponent("search-handler"),
	}
}

// Routes registers the API on a new mux.
//
//	GET  /api/v1/search?q=&field=&limit=
//	GET  /api/v1/documents/{id}
//	GET  /api/v1/stats
//	POST /api/v1/refresh
//	POST /api/v1/cache/invalidate
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/refresh", h.Refresh)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	return mux
}

type hitResponse struct {
	DocID    uint32            `json:"doc_id"`
	Score    float64           `json:"score"`
	Document map[string]string `json:"document,omitempty"`
}

type searchResponse struct {
	Query      string        `json:"query"`
	Generation int64         `json:"generation"`
	TotalHits  int           `json:"total_hits"`
	Hits       []hitResponse `json:"hits"`
	CacheHit   bool          `json:"cache_hit"`
	TookMs     int64         `json:"took_ms"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	text := r.URL.Query().Get("q")
	if text == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	field := r.URL.Query().Get("field")
	if field == "" {
		field = h.cfg.DefaultField
	}
	limit := h.cfg.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, h.cfg.MaxResults)
	}

	ctx, root := tracing.Start(ctx, "search")
	defer h.logTrace(ctx, root)

	_, span := tracing.Start(ctx, "parse")
	q, err := query.Parse(text, field)
	span.End()
	if err != nil {
		h.writeError(w, err)
		return
	}
	root.SetAttr("query", q.String())

	s, err := searcher.Open(h.mgr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer s.Close()
	root.SetAttr("generation", s.Generation())

	var (
		top      *searcher.TopDocs
		cacheHit bool
	)
	execCtx, span := tracing.Start(ctx, "execute")
	if h.cache != nil {
		top, cacheHit, err = h.cache.GetOrCompute(execCtx, s.Generation(), q, limit, func() (*searcher.TopDocs, error) {
			return s.Search(execCtx, q, limit)
		})
	} else {
		top, err = s.Search(execCtx, q, limit)
	}
	span.SetAttr("cache_hit", cacheHit)
	span.End()
	if err != nil {
		log.Error("search execution failed", "query", q.String(), "error", err)
		h.observe(start, "error", cacheHit, 0)
		h.writeError(w, err)
		return
	}

	resp := searchResponse{
		Query:      q.String(),
		Generation: top.Generation,
		TotalHits:  top.TotalHits,
		Hits:       make([]hitResponse, 0, len(top.Hits)),
		CacheHit:   cacheHit,
	}
	_, span = tracing.Start(ctx, "resolve")
	for _, hit := range top.Hits {
		doc, err := s.Document(hit.DocID)
		if err != nil {
			log.Warn("resolving hit failed", "doc_id", hit.DocID, "error", err)
		}
		resp.Hits = append(resp.Hits, hitResponse{DocID: hit.DocID, Score: hit.Score, Document: doc})
	}
	span.SetAttr("hits", len(resp.Hits))
	span.End()
	resp.TookMs = time.Since(start).Milliseconds()

	resultType := "hits"
	if top.TotalHits == 0 {
		resultType = "empty"
	}
	h.observe(start, resultType, cacheHit, len(top.Hits))
	log.Info("search completed",
		"query", resp.Query,
		"generation", resp.Generation,
		"total_hits", resp.TotalHits,
		"returned", len(resp.Hits),
		"cache_hit", cacheHit,
		"latency_ms", resp.TookMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// logTrace writes the phase breakdown of a search, at warn level when it
// took longer than the configured slow-query threshold.
func (h *Handler) logTrace(ctx context.Context, root *tracing.Span) {
	root.End()
	level := slog.LevelDebug
	if h.cfg.SlowQuery > 0 && root.Duration >= h.cfg.SlowQuery {
		level = slog.LevelWarn
	}
	root.Log(ctx, h.logger, level)
}

func (h *Handler) observe(start time.Time, resultType string, cacheHit bool, returned int) {
	if h.metrics == nil {
		return
	}
	status := "miss"
	switch {
	case h.cache == nil:
		status = "disabled"
	case cacheHit:
		status = "hit"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if resultType != "error" {
		h.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		h.writeError(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid document id %q", r.PathValue("id")))
		return
	}
	s, err := searcher.Open(h.mgr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer s.Close()

	doc, err := s.Document(uint32(id))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":     id,
		"generation": s.Generation(),
		"document":   doc,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := searcher.Open(h.mgr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer s.Close()

	maxDoc, err := s.MaxDoc()
	if err != nil {
		h.writeError(w, err)
		return
	}
	stats := map[string]any{
		"generation": s.Generation(),
		"max_doc":    maxDoc,
		"segments":   s.Segments(),
	}
	if h.cache != nil {
		hits, misses := h.cache.Stats()
		var hitRate float64
		if total := hits + misses; total > 0 {
			hitRate = float64(hits) / float64(total) * 100
		}
		stats["cache"] = map[string]any{
			"hits":     hits,
			"misses":   misses,
			"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		}
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Refresh picks up a generation committed by another process.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	changed, err := h.mgr.Refresh(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("refresh failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"changed":    changed,
		"generation": h.mgr.Current().Generation,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
