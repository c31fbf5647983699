// Package httpapi exposes the claw-rubber HTTP surface.
//
// Routes:
//
//	POST /v1/search     — rate-limited upstream search with policy-annotated results
//	POST /v1/fetch      — retrieve a cached search result through the pipeline
//	POST /v1/web-fetch  — retrieve a direct URL through the pipeline
//	GET  /healthz       — process liveness
//	GET  /readyz        — dependency readiness
//	/v1/admin/*         — runtime list reads/writes and event reads (writes toggle-gated)
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Waffleophagus/claw-rubber/config"
	"github.com/Waffleophagus/claw-rubber/idgen"
	"github.com/Waffleophagus/claw-rubber/pipeline"
	"github.com/Waffleophagus/claw-rubber/ratequeue"
	"github.com/Waffleophagus/claw-rubber/search"
	"github.com/Waffleophagus/claw-rubber/shield"
	"github.com/Waffleophagus/claw-rubber/store"
)

// Server holds the wired components behind the HTTP surface.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	pipe     *pipeline.Pipeline
	queue    *ratequeue.Queue
	searcher search.Client
	logger   *slog.Logger

	// rendererReady probes the render backend; nil means no renderer.
	rendererReady func(ctx context.Context) bool

	newFetchID idgen.Generator
}

// SetRendererCheck installs the readiness probe for the render backend.
func (s *Server) SetRendererCheck(fn func(ctx context.Context) bool) {
	s.rendererReady = fn
}

// NewServer wires the surface. All dependencies are required except logger.
func NewServer(cfg *config.Config, st *store.Store, p *pipeline.Pipeline, q *ratequeue.Queue, sc search.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		store:      st,
		pipe:       p,
		queue:      q,
		searcher:   sc,
		logger:     logger,
		newFetchID: idgen.Prefixed("wf_", idgen.UUIDv7()),
	}
}

// Router builds the chi router with the shield middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/fetch", s.handleFetch)
		r.Post("/web-fetch", s.handleWebFetch)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/events", s.handleListEvents)
			r.Get("/allowlist", s.handleListDomains(s.store.ListRuntimeAllowlistDomains))
			r.Get("/blocklist", s.handleListDomains(s.store.ListRuntimeBlocklistDomains))
			r.Post("/allowlist", s.handleAddDomain(s.store.AddRuntimeAllowlistDomain))
			r.Post("/blocklist", s.handleAddDomain(s.store.AddRuntimeBlocklistDomain))
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "unknown route", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})
	return r
}
