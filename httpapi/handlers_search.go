package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/Waffleophagus/claw-rubber/config"
	"github.com/Waffleophagus/claw-rubber/policy"
	"github.com/Waffleophagus/claw-rubber/ratequeue"
	"github.com/Waffleophagus/claw-rubber/search"
	"github.com/Waffleophagus/claw-rubber/shield"
	"github.com/Waffleophagus/claw-rubber/store"
)

type searchRequest struct {
	Query      string `json:"query"`
	Count      int    `json:"count"`
	Country    string `json:"country"`
	SearchLang string `json:"searchLang"`
	Safesearch string `json:"safesearch"`
	Freshness  string `json:"freshness"`
}

type searchResultItem struct {
	ResultID     string `json:"result_id"`
	Title        string `json:"title"`
	Snippet      string `json:"snippet"`
	Source       string `json:"source"`
	Rank         int    `json:"rank,omitempty"`
	Availability string `json:"availability"`
	URL          string `json:"url,omitempty"`
	RiskHint     string `json:"risk_hint,omitempty"`
}

type searchResponse struct {
	RequestID string             `json:"request_id"`
	Results   []searchResultItem `json:"results"`
	Meta      searchMeta         `json:"meta"`
}

type searchMeta struct {
	TotalReturned int  `json:"total_returned"`
	URLsExposed   bool `json:"urls_exposed"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", nil)
		return
	}
	if req.Count < 0 || req.Count > 20 {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 20", nil)
		return
	}
	switch req.Safesearch {
	case "", "off", "moderate", "strict":
	default:
		writeError(w, http.StatusBadRequest, "safesearch must be off, moderate, or strict", nil)
		return
	}

	v, err := s.queue.Do(r.Context(), func(ctx context.Context) (any, error) {
		return s.searcher.Search(ctx, search.Query{
			Query:      req.Query,
			Count:      req.Count,
			Country:    req.Country,
			SearchLang: req.SearchLang,
			Safesearch: req.Safesearch,
			Freshness:  req.Freshness,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, ratequeue.ErrQueueOverflow):
			writeError(w, http.StatusServiceUnavailable, "search queue saturated", nil)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, "request cancelled", nil)
		default:
			log.Warn("search upstream failed", "error", err)
			writeError(w, http.StatusBadGateway, "search upstream failure", nil)
		}
		return
	}
	results := v.([]search.Result)

	requestID, err := s.store.StoreSearchRequest(r.Context(), req.Query, len(results))
	if err != nil {
		log.Error("store search request failed", "error", err)
		writeError(w, http.StatusBadGateway, "search persistence failure", nil)
		return
	}

	allowlist, blocklist, err := s.effectiveLists(r.Context())
	if err != nil {
		log.Error("load domain lists failed", "error", err)
		writeError(w, http.StatusBadGateway, "policy lists unavailable", nil)
		return
	}

	exposeURLs := !s.cfg.Search.RedactURLs
	resp := searchResponse{
		RequestID: requestID,
		Results:   []searchResultItem{},
		Meta:      searchMeta{URLsExposed: exposeURLs},
	}

	rank := 0
	for _, res := range results {
		u, perr := url.Parse(res.URL)
		if perr != nil || !strings.EqualFold(u.Scheme, "https") || u.Hostname() == "" {
			continue // only https results are cacheable and fetchable
		}
		rank++
		domain := policy.NormalizeHost(u.Hostname())

		availability := "allowed"
		blockReason := ""
		if eval := policy.Evaluate(domain, allowlist, blocklist); eval.Action == policy.ActionBlock {
			availability = "blocked"
			blockReason = eval.Reason
		}

		resultID, serr := s.store.StoreSearchResult(r.Context(), &store.SearchResultRecord{
			RequestID:    requestID,
			Query:        req.Query,
			Rank:         rank,
			URL:          res.URL,
			Domain:       domain,
			Title:        res.Title,
			Snippet:      res.Snippet,
			Source:       res.Source,
			Availability: availability,
			BlockReason:  blockReason,
		}, s.cfg.ResultTTL())
		if serr != nil {
			log.Error("store search result failed", "error", serr)
			continue
		}

		item := searchResultItem{
			ResultID:     resultID,
			Title:        res.Title,
			Snippet:      res.Snippet,
			Source:       res.Source,
			Rank:         rank,
			Availability: availability,
		}
		if exposeURLs {
			item.URL = res.URL
		}
		if availability == "blocked" {
			item.RiskHint = "high"
		}
		resp.Results = append(resp.Results, item)
	}
	resp.Meta.TotalReturned = len(resp.Results)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) effectiveLists(ctx context.Context) (allow, block []string, err error) {
	allow, err = s.store.GetEffectiveAllowlist(ctx, config.SplitCSV(s.cfg.Policy.Allowlist))
	if err != nil {
		return nil, nil, err
	}
	block, err = s.store.GetEffectiveBlocklist(ctx, config.SplitCSV(s.cfg.Policy.Blocklist))
	if err != nil {
		return nil, nil, err
	}
	return allow, block, nil
}
