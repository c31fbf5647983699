package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/Waffleophagus/claw-rubber/decision"
	"github.com/Waffleophagus/claw-rubber/pipeline"
	"github.com/Waffleophagus/claw-rubber/policy"
	"github.com/Waffleophagus/claw-rubber/shield"
	"github.com/Waffleophagus/claw-rubber/store"
)

const maxWebFetchChars = 5_000_000

type fetchRequest struct {
	ResultID string `json:"result_id"`
}

type fetchAllowResponse struct {
	ResultID       string          `json:"result_id"`
	Content        string          `json:"content"`
	ContentSummary string          `json:"content_summary"`
	Safety         pipeline.Safety `json:"safety"`
	Source         pipeline.Source `json:"source"`
	URL            string          `json:"url,omitempty"`
	FinalURL       string          `json:"final_url,omitempty"`
}

type fetchBlockResponse struct {
	ResultID string           `json:"result_id"`
	Safety   pipeline.Safety  `json:"safety"`
	Source   *pipeline.Source `json:"source,omitempty"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if _, err := uuid.Parse(req.ResultID); err != nil {
		writeError(w, http.StatusBadRequest, "result_id must be a UUID", nil)
		return
	}

	rec, err := s.store.GetSearchResult(r.Context(), req.ResultID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown or expired result", nil)
		return
	}
	if err != nil {
		log.Error("get search result failed", "error", err)
		writeError(w, http.StatusBadGateway, "result lookup failure", nil)
		return
	}

	out, err := s.pipe.Execute(r.Context(), pipeline.Request{
		ResultID:   rec.ResultID,
		URL:        rec.URL,
		Domain:     rec.Domain,
		OutputMode: pipeline.ModeMarkdown,
		TraceKind:  pipeline.TraceSearchResultFetch,
		Search: &pipeline.SearchContext{
			RequestID: rec.RequestID,
			Query:     rec.Query,
			Rank:      rec.Rank,
		},
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream fetch failure", nil)
		return
	}

	if out.Decision == decision.DecisionBlock {
		src := out.Source
		writeJSON(w, http.StatusUnprocessableEntity, fetchBlockResponse{
			ResultID: rec.ResultID,
			Safety:   out.Safety,
			Source:   &src,
		})
		return
	}

	resp := fetchAllowResponse{
		ResultID:       rec.ResultID,
		Content:        out.Content,
		ContentSummary: out.ContentSummary,
		Safety:         out.Safety,
		Source:         out.Source,
	}
	if s.cfg.Fetch.ExposeSafeContentURLs {
		resp.URL = rec.URL
		resp.FinalURL = out.Source.FinalURL
	}
	writeJSON(w, http.StatusOK, resp)
}

type webFetchRequest struct {
	URL         string `json:"url"`
	ExtractMode string `json:"extractMode"`
	MaxChars    int    `json:"maxChars"`
}

type webFetchAllowResponse struct {
	FetchID        string          `json:"fetch_id"`
	Content        string          `json:"content"`
	ContentSummary string          `json:"content_summary"`
	ExtractMode    string          `json:"extract_mode"`
	Truncated      bool            `json:"truncated"`
	Safety         pipeline.Safety `json:"safety"`
	Source         pipeline.Source `json:"source"`
	URL            string          `json:"url,omitempty"`
	FinalURL       string          `json:"final_url,omitempty"`
}

type webFetchBlockResponse struct {
	FetchID     string           `json:"fetch_id"`
	ExtractMode string           `json:"extract_mode"`
	Safety      pipeline.Safety  `json:"safety"`
	Source      *pipeline.Source `json:"source,omitempty"`
}

func (s *Server) handleWebFetch(w http.ResponseWriter, r *http.Request) {
	var req webFetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Hostname() == "" {
		writeError(w, http.StatusBadRequest, "url must be a valid https URL", nil)
		return
	}
	mode := req.ExtractMode
	if mode == "" {
		mode = pipeline.ModeMarkdown
	}
	if mode != pipeline.ModeMarkdown && mode != pipeline.ModeText {
		writeError(w, http.StatusBadRequest, "extractMode must be markdown or text", nil)
		return
	}
	if req.MaxChars < 0 || req.MaxChars > maxWebFetchChars {
		writeError(w, http.StatusBadRequest, "maxChars must be between 1 and 5000000", nil)
		return
	}

	fetchID := s.newFetchID()
	out, err := s.pipe.Execute(r.Context(), pipeline.Request{
		URL:            u.String(),
		Domain:         policy.NormalizeHost(u.Hostname()),
		OutputMode:     mode,
		OutputMaxChars: req.MaxChars,
		TraceKind:      pipeline.TraceDirectWebFetch,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream fetch failure", nil)
		return
	}

	if out.Decision == decision.DecisionBlock {
		src := out.Source
		writeJSON(w, http.StatusUnprocessableEntity, webFetchBlockResponse{
			FetchID:     fetchID,
			ExtractMode: mode,
			Safety:      out.Safety,
			Source:      &src,
		})
		return
	}

	resp := webFetchAllowResponse{
		FetchID:        fetchID,
		Content:        out.Content,
		ContentSummary: out.ContentSummary,
		ExtractMode:    mode,
		Truncated:      out.Truncated,
		Safety:         out.Safety,
		Source:         out.Source,
	}
	if s.cfg.Fetch.ExposeSafeContentURLs {
		resp.URL = u.String()
		resp.FinalURL = out.Source.FinalURL
	}
	writeJSON(w, http.StatusOK, resp)
}
