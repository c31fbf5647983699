package httpapi

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// handleHealthz is pure process liveness: if this handler runs, we are alive.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "claw-rubber",
	})
}

// handleReadyz reports per-dependency readiness; any false dependency turns
// the whole response 503.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	deps := map[string]bool{
		"store":             false,
		"search_configured": s.cfg.Search.Endpoint != "" || s.cfg.Search.APIKey != "",
	}

	var g errgroup.Group
	var storeOK, rendererOK bool
	g.Go(func() error {
		storeOK = s.store.IsHealthy(ctx)
		return nil
	})
	if s.rendererReady != nil {
		g.Go(func() error {
			rendererOK = s.rendererReady(ctx)
			return nil
		})
	}
	g.Wait()

	deps["store"] = storeOK
	if s.rendererReady != nil {
		deps["renderer"] = rendererOK
	}

	ready := true
	for _, ok := range deps {
		if !ok {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":        ready,
		"dependencies": deps,
	})
}
