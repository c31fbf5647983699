package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Waffleophagus/claw-rubber/policy"
	"github.com/Waffleophagus/claw-rubber/shield"
	"github.com/Waffleophagus/claw-rubber/store"
)

type domainEntry struct {
	Domain  string `json:"domain"`
	Note    string `json:"note,omitempty"`
	AddedAt int64  `json:"added_at"`
}

// handleListDomains serves GET on either runtime list.
func (s *Server) handleListDomains(list func(context.Context) ([]store.RuntimeDomainEntry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := list(r.Context())
		if err != nil {
			shield.GetLogger(r.Context()).Error("list runtime domains failed", "error", err)
			writeError(w, http.StatusBadGateway, "list unavailable", nil)
			return
		}
		out := make([]domainEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, domainEntry{Domain: e.Domain, Note: e.Note, AddedAt: e.AddedAt.UnixMilli()})
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": out})
	}
}

type addDomainRequest struct {
	Domain string `json:"domain"`
	Note   string `json:"note"`
}

// handleAddDomain serves POST on either runtime list. Writes are gated by
// the dashboard write-API toggle.
func (s *Server) handleAddDomain(add func(ctx context.Context, domain, note string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Dashboard.WriteAPIEnabled {
			writeError(w, http.StatusNotFound, "unknown route", nil)
			return
		}

		var req addDomainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		if err := add(r.Context(), req.Domain, req.Note); err != nil {
			if errors.Is(err, policy.ErrInvalidDomain) {
				writeError(w, http.StatusBadRequest, "invalid domain", err.Error())
				return
			}
			shield.GetLogger(r.Context()).Error("add runtime domain failed", "error", err)
			writeError(w, http.StatusBadGateway, "write failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"domain": policy.NormalizeRule(req.Domain),
			"status": "added",
		})
	}
}

// handleListEvents serves recent fetch events, newest first.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", nil)
			return
		}
		limit = n
	}

	events, err := s.store.ListFetchEvents(r.Context(), limit)
	if err != nil {
		shield.GetLogger(r.Context()).Error("list fetch events failed", "error", err)
		writeError(w, http.StatusBadGateway, "events unavailable", nil)
		return
	}

	type eventItem struct {
		ID         int64    `json:"id"`
		URL        string   `json:"url"`
		Domain     string   `json:"domain"`
		Decision   string   `json:"decision"`
		Score      int      `json:"score"`
		Flags      []string `json:"flags"`
		Reason     string   `json:"reason,omitempty"`
		BlockedBy  string   `json:"blocked_by,omitempty"`
		AllowedBy  string   `json:"allowed_by,omitempty"`
		TraceKind  string   `json:"trace_kind"`
		DurationMs int64    `json:"duration_ms"`
		CreatedAt  int64    `json:"created_at"`
	}
	out := make([]eventItem, 0, len(events))
	for _, e := range events {
		out = append(out, eventItem{
			ID: e.ID, URL: e.URL, Domain: e.Domain, Decision: e.Decision,
			Score: e.Score, Flags: e.Flags, Reason: e.Reason,
			BlockedBy: e.BlockedBy, AllowedBy: e.AllowedBy,
			TraceKind: e.TraceKind, DurationMs: e.DurationMs,
			CreatedAt: e.CreatedAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
