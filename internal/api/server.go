// Package api serves the operational HTTP surface: health, metrics, active
// call inspection, and asset cache administration (including the explicit
// reset that is the only way a failed fingerprint is retried).
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/voxflow/voxflow/internal/api/middleware"
	"github.com/voxflow/voxflow/internal/assets"
)

// CallTable exposes the active call state for inspection.
type CallTable interface {
	Snapshot() map[string]string
	Count() int
}

// AssetCache exposes the cache surface the admin API needs.
type AssetCache interface {
	Entries() []assets.EntryInfo
	Stats() assets.CacheStats
	Reset(ctx context.Context, fingerprint string) error
}

// PrewarmFunc materializes every flow prompt; wired to the flow package's
// graph traversal.
type PrewarmFunc func(ctx context.Context) error

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	calls   CallTable
	cache   AssetCache
	prewarm PrewarmFunc
	metrics http.Handler
	token   string
}

// NewServer creates the HTTP handler with all routes mounted. An empty token
// disables authentication.
func NewServer(calls CallTable, cache AssetCache, prewarm PrewarmFunc, metrics http.Handler, token string) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		calls:   calls,
		cache:   cache,
		prewarm: prewarm,
		metrics: metrics,
		token:   token,
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(chimw.Recoverer)

	// Scrape and liveness endpoints stay unauthenticated.
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.token != "" {
				r.Use(middleware.RequireToken(s.token))
			}

			r.Get("/stats", s.handleStats)
			r.Get("/calls", s.handleCalls)
			r.Get("/assets", s.handleAssets)
			r.Post("/assets/{fingerprint}/reset", s.handleAssetReset)
			r.Post("/prewarm", s.handlePrewarm)
		})
	})
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats returns active call and cache totals.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_calls": s.calls.Count(),
		"cache":        s.cache.Stats(),
	})
}

// handleCalls returns the channel -> current node mapping.
func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.calls.Snapshot())
}

// handleAssets lists cache entries with their status.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Entries())
}

// handleAssetReset discards a cache entry so its fingerprint materializes
// afresh on next demand.
func (s *Server) handleAssetReset(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")

	err := s.cache.Reset(r.Context(), fingerprint)
	switch {
	case errors.Is(err, assets.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, "unknown fingerprint")
	case errors.Is(err, assets.ErrEntryPending):
		writeError(w, http.StatusConflict, "materialization in progress")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"fingerprint": fingerprint, "status": "reset"})
	}
}

// handlePrewarm materializes every prompt in the flow graph.
func (s *Server) handlePrewarm(w http.ResponseWriter, r *http.Request) {
	if s.prewarm == nil {
		writeError(w, http.StatusNotImplemented, "prewarm not configured")
		return
	}
	if err := s.prewarm(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "prewarmed"})
}
