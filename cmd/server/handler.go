package main

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/earthsight/earthsight/internal/cache"
	"github.com/earthsight/earthsight/internal/eo"
	"github.com/earthsight/earthsight/internal/observability"
	cacheerr "github.com/earthsight/earthsight/pkg/errors"
)

// analysisService runs analyses through the result cache.
type analysisService interface {
	Analyze(ctx context.Context, op string, params map[string]any) (eo.Result, error)
}

// cacheAdmin is the slice of the cache store the admin routes need.
type cacheAdmin interface {
	Invalidate(ctx context.Context, key string) (bool, error)
	InvalidateByPattern(ctx context.Context, pattern string) (int, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

// artifactFetcher pulls rendered exports through the file cache.
type artifactFetcher interface {
	Fetch(ctx context.Context, bucket, objectKey string) (string, error)
	FetchNamed(ctx context.Context, bucket, objectKey, filename string) (string, error)
}

// artifactSweeper evicts stale files from the artifact cache.
type artifactSweeper interface {
	EvictOlderThan(maxAge time.Duration) (int, error)
}

// Handler serves the HTTP API.
type Handler struct {
	analyzer analysisService
	store    cacheAdmin
	sweeper  artifactSweeper
	exporter artifactFetcher // nil when no results bucket is configured
	bucket   string
	maxAge   time.Duration
	logger   *observability.Logger
}

// NewHandler wires the API handler.
func NewHandler(analyzer analysisService, store cacheAdmin, sweeper artifactSweeper, exporter artifactFetcher, bucket string, maxAge time.Duration, logger *observability.Logger) *Handler {
	return &Handler{
		analyzer: analyzer,
		store:    store,
		sweeper:  sweeper,
		exporter: exporter,
		bucket:   bucket,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Analyze handles POST /eo/{analysis}. The request body is the analysis
// parameter object; the response carries the result plus cache metadata.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	op := r.PathValue("analysis")
	if !eo.IsSupported(op) {
		writeError(w, http.StatusNotFound, "unknown analysis type: "+op)
		return
	}

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), op, params)
	if err != nil {
		h.logger.WithRequestID(r.Context()).Error("analysis failed", "analysis", op, "error", err)
		writeError(w, http.StatusBadGateway, "analysis failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analysis":  op,
		"cached":    result.Cached,
		"cache_key": result.Key,
		"result":    result.Payload,
	})
}

type exportRequest struct {
	ObjectKey string `json:"object_key"`
	Filename  string `json:"filename,omitempty"`
}

// Export handles POST /eo/export: it materializes a rendered artifact from
// the results bucket onto local disk and returns the path.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusNotImplemented, "no results bucket configured")
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ObjectKey == "" {
		writeError(w, http.StatusBadRequest, "object_key is required")
		return
	}

	var (
		path string
		err  error
	)
	if req.Filename != "" {
		path, err = h.exporter.FetchNamed(r.Context(), h.bucket, req.ObjectKey, req.Filename)
	} else {
		path, err = h.exporter.Fetch(r.Context(), h.bucket, req.ObjectKey)
	}
	if err != nil {
		h.logger.WithRequestID(r.Context()).Error("export fetch failed", "object", req.ObjectKey, "error", err)
		writeError(w, http.StatusBadGateway, "export fetch failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"path": path})
}

// CacheStats handles GET /cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeCacheError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CacheInvalidate handles DELETE /cache/{key}.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	deleted, err := h.store.Invalidate(r.Context(), key)
	if err != nil {
		writeCacheError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": deleted})
}

// CacheInvalidatePattern handles DELETE /cache?pattern=... . The glob is
// matched against full key names, so callers targeting derived entries
// include the "cache:" prefix themselves.
func (h *Handler) CacheInvalidatePattern(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, "pattern query parameter is required")
		return
	}

	count, err := h.store.InvalidateByPattern(r.Context(), pattern)
	if err != nil {
		writeCacheError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "deleted": count})
}

type cleanupRequest struct {
	MaxAgeSeconds int64 `json:"max_age_seconds"`
}

// CacheCleanup handles POST /cache/cleanup: it sweeps the artifact cache,
// removing files older than the requested age (default: the configured
// retention).
func (h *Handler) CacheCleanup(w http.ResponseWriter, r *http.Request) {
	maxAge := h.maxAge

	if r.ContentLength > 0 {
		var req cleanupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.MaxAgeSeconds > 0 {
			maxAge = time.Duration(req.MaxAgeSeconds) * time.Second
		}
	}

	removed, err := h.sweeper.EvictOlderThan(maxAge)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "max_age_seconds": int64(maxAge.Seconds())})
}

// Operations handles GET /eo/operations.
func (h *Handler) Operations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": eo.Operations()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeCacheError maps typed cache errors to HTTP statuses. Connection and
// store trouble is a 503 so callers can tell backend outages apart from
// bad requests.
func writeCacheError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case cacheerr.IsType(err, cacheerr.TypeConfiguration):
		writeError(w, http.StatusNotImplemented, msg)
	case cacheerr.IsType(err, cacheerr.TypeConnection):
		writeError(w, http.StatusServiceUnavailable, msg)
	default:
		writeError(w, http.StatusInternalServerError, msg)
	}
}
