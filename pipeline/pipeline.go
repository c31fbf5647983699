// Package pipeline runs one fetch end to end.
//
// The pipeline never panics across its boundary and never throws past it:
// every failure is either a typed fetch error (the caller answers 502) or a
// completed block decision with persisted evidence.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Waffleophagus/claw-rubber/decision"
	"github.com/Waffleophagus/claw-rubber/fetcher"
	"github.com/Waffleophagus/claw-rubber/judge"
	"github.com/Waffleophagus/claw-rubber/policy"
	"github.com/Waffleophagus/claw-rubber/sanitize"
	"github.com/Waffleophagus/claw-rubber/scorer"
	"github.com/Waffleophagus/claw-rubber/store"
)

// ErrFetch wraps retrieval failures; the HTTP layer maps it to 502.
var ErrFetch = errors.New("pipeline: fetch failed")

// Trace kinds.
const (
	TraceSearchResultFetch = "search-result-fetch"
	TraceDirectWebFetch    = "direct-web-fetch"
	TraceUnknown           = "unknown"
)

// Output modes.
const (
	ModeText     = "text"
	ModeMarkdown = "markdown"
)

// SearchContext carries provenance for search-result fetches.
type SearchContext struct {
	RequestID string
	Query     string
	Rank      int
}

// Request is one pipeline invocation.
type Request struct {
	ResultID       string // "" for direct fetches
	URL            string
	Domain         string
	OutputMode     string // text | markdown
	OutputMaxChars int    // 0 = profile default
	TraceKind      string
	Search         *SearchContext
}

// Safety is the decision material returned to the caller.
type Safety struct {
	Decision             string   `json:"decision"`
	Score                int      `json:"score"`
	Flags                []string `json:"flags"`
	Reason               string   `json:"reason,omitempty"`
	Bypassed             bool     `json:"bypassed"`
	NormalizationApplied []string `json:"normalization_applied"`
	ObfuscationSignals   []string `json:"obfuscation_signals"`
}

// Source is the retrieval provenance returned to the caller.
type Source struct {
	Domain       string `json:"domain"`
	FetchBackend string `json:"fetch_backend,omitempty"`
	Rendered     bool   `json:"rendered"`
	FallbackUsed bool   `json:"fallback_used"`
	FinalURL     string `json:"final_url,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
}

// Outcome is the pipeline's result, for both decisions.
type Outcome struct {
	Decision       decision.Decision
	Content        string
	Truncated      bool
	ContentSummary string
	Safety         Safety
	Source         Source
	EventID        int64
}

// Config is the per-process pipeline configuration.
type Config struct {
	StaticAllowlist []string
	StaticBlocklist []string

	MediumThreshold   int
	BlockThreshold    int
	MaxExtractedChars int
	FailClosed        bool
}

// Pipeline orchestrates fetches. Safe for concurrent use.
type Pipeline struct {
	store   *store.Store
	fetcher *fetcher.Fetcher
	scorer  *scorer.Scorer
	judge   *judge.Judge // nil when disabled
	md      *sanitize.Markdowner
	cfg     Config
	logger  *slog.Logger
}

// New creates a Pipeline. j may be nil.
func New(st *store.Store, f *fetcher.Fetcher, sc *scorer.Scorer, j *judge.Judge, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:   st,
		fetcher: f,
		scorer:  sc,
		judge:   j,
		md:      sanitize.NewMarkdowner(),
		cfg:     cfg,
		logger:  logger,
	}
}

// Execute runs one fetch. Fetch failures return an error wrapping ErrFetch
// and write no FetchEvent; every completed pipeline writes exactly one.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	log := p.logger.With("url", req.URL, "domain", req.Domain, "trace_kind", req.TraceKind)

	allow, block, err := p.effectiveLists(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load domain lists: %v", ErrFetch, err)
	}

	// 1. Domain policy before any bytes move.
	eval := policy.Evaluate(req.Domain, allow, block)
	if eval.Action == policy.ActionBlock {
		out := p.domainBlockOutcome(ctx, req, eval, Source{Domain: req.Domain}, start)
		log.Info("fetch blocked by domain policy", "rule", eval.Rule)
		return out, nil
	}

	// 2. Retrieval.
	res, err := p.fetcher.FetchPage(ctx, req.URL)
	if err != nil {
		log.Warn("fetch failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	src := Source{
		Domain:       req.Domain,
		FetchBackend: res.BackendUsed,
		Rendered:     res.Rendered,
		FallbackUsed: res.FallbackUsed,
		FinalURL:     res.FinalURL,
		ContentType:  res.ContentType,
	}

	// 3. Post-fetch domain recheck: redirects may have moved us.
	finalDomain := req.Domain
	if u, perr := url.Parse(res.FinalURL); perr == nil && u.Hostname() != "" {
		finalDomain = policy.NormalizeHost(u.Hostname())
	}
	if finalDomain != policy.NormalizeHost(req.Domain) {
		recheck := policy.Evaluate(finalDomain, allow, block)
		if recheck.Action == policy.ActionBlock {
			recheck.Reason = "Redirected final URL blocked"
			src.Domain = finalDomain
			out := p.domainBlockOutcome(ctx, req, recheck, src, start)
			log.Info("fetch blocked on post-fetch recheck", "final_domain", finalDomain)
			return out, nil
		}
		eval = recheck
		src.Domain = finalDomain
	}

	// 4. Sanitize and extract.
	body := string(res.Body)
	scoring := sanitize.ToText(body, p.cfg.MaxExtractedChars)
	extracted := p.extract(body, res.FinalURL, req)

	// 5. Score on inspect; consult the judge only in the medium band.
	var scored scorer.Result
	var verdict *decision.Judgment
	if eval.Action == policy.ActionInspect {
		scored = p.scorer.Score(scoring.Content)
		if p.judge != nil && scored.Score >= p.cfg.MediumThreshold && scored.Score < p.cfg.BlockThreshold {
			if jr := p.judge.Adjudicate(ctx, scoring.Content, scored.Score, scored.Flags); jr != nil {
				verdict = &decision.Judgment{Label: jr.Label, Confidence: jr.Confidence}
			}
		}
	}

	// 6. Decide.
	out := decision.Evaluate(decision.Input{
		Score:           scored.Score,
		Flags:           scored.Flags,
		AllowSignals:    scored.AllowSignals,
		DomainAction:    eval.Action,
		DomainReason:    eval.Reason,
		Judge:           verdict,
		MediumThreshold: p.cfg.MediumThreshold,
		BlockThreshold:  p.cfg.BlockThreshold,
		FailClosed:      p.cfg.FailClosed,
	})

	// 7. Persist the trace; blocks also persist their evidence.
	eventID := p.persistEvent(ctx, req, out, eval.Action, src, time.Since(start))
	if out.Decision == decision.DecisionBlock {
		p.persistPayload(ctx, eventID, req, out, src, scored, scoring.Content)
	}

	// 8. Shape the response.
	safety := Safety{
		Decision:             string(out.Decision),
		Score:                out.Score,
		Flags:                emptySlice(out.Flags),
		Reason:               out.Reason,
		Bypassed:             out.Bypassed,
		NormalizationApplied: emptySlice(scored.Normalization.Transformations),
		ObfuscationSignals:   emptySlice(scored.Normalization.SignalFlags),
	}

	if out.Decision == decision.DecisionBlock {
		log.Info("fetch blocked", "score", out.Score, "blocked_by", out.BlockedBy)
		return &Outcome{
			Decision: decision.DecisionBlock,
			Safety:   safety,
			Source:   src,
			EventID:  eventID,
		}, nil
	}

	safety.Reason = "" // allows carry no reason
	log.Info("fetch allowed", "score", out.Score, "bypassed", out.Bypassed,
		"duration_ms", time.Since(start).Milliseconds())
	return &Outcome{
		Decision:       decision.DecisionAllow,
		Content:        extracted.Content,
		Truncated:      extracted.Truncated,
		ContentSummary: Summary(extracted.Content),
		Safety:         safety,
		Source:         src,
		EventID:        eventID,
	}, nil
}

func (p *Pipeline) effectiveLists(ctx context.Context) (allow, block []string, err error) {
	allow, err = p.store.GetEffectiveAllowlist(ctx, p.cfg.StaticAllowlist)
	if err != nil {
		return nil, nil, err
	}
	block, err = p.store.GetEffectiveBlocklist(ctx, p.cfg.StaticBlocklist)
	if err != nil {
		return nil, nil, err
	}
	return allow, block, nil
}

// domainBlockOutcome persists and shapes a block that needed no scoring.
func (p *Pipeline) domainBlockOutcome(ctx context.Context, req Request, eval policy.Evaluation, src Source, start time.Time) *Outcome {
	out := decision.Evaluate(decision.Input{
		DomainAction:    policy.ActionBlock,
		DomainReason:    eval.Reason,
		MediumThreshold: p.cfg.MediumThreshold,
		BlockThreshold:  p.cfg.BlockThreshold,
		FailClosed:      p.cfg.FailClosed,
	})
	eventID := p.persistEvent(ctx, req, out, policy.ActionBlock, src, time.Since(start))

	return &Outcome{
		Decision: decision.DecisionBlock,
		Safety: Safety{
			Decision:             string(decision.DecisionBlock),
			Score:                0,
			Flags:                emptySlice(out.Flags),
			Reason:               out.Reason,
			NormalizationApplied: []string{},
			ObfuscationSignals:   []string{},
		},
		Source:  src,
		EventID: eventID,
	}
}

func (p *Pipeline) extract(body, finalURL string, req Request) sanitize.Result {
	maxChars := req.OutputMaxChars
	if maxChars <= 0 {
		maxChars = p.cfg.MaxExtractedChars
	}
	if req.OutputMode == ModeText {
		return sanitize.ToText(body, maxChars)
	}
	return p.md.ToMarkdown(body, finalURL, maxChars)
}

// persistEvent always writes; a failing store is logged, not surfaced — the
// decision already happened and the caller deserves it.
func (p *Pipeline) persistEvent(ctx context.Context, req Request, out decision.Outcome, action policy.Action, src Source, took time.Duration) int64 {
	e := &store.FetchEvent{
		ResultID:        req.ResultID,
		URL:             req.URL,
		Domain:          src.Domain,
		Decision:        string(out.Decision),
		Score:           out.Score,
		Flags:           out.Flags,
		Reason:          out.Reason,
		BlockedBy:       string(out.BlockedBy),
		AllowedBy:       string(out.AllowedBy),
		DomainAction:    string(action),
		MediumThreshold: p.cfg.MediumThreshold,
		BlockThreshold:  p.cfg.BlockThreshold,
		Bypassed:        out.Bypassed,
		DurationMs:      took.Milliseconds(),
		TraceKind:       traceKind(req.TraceKind),
	}
	if req.Search != nil {
		e.SearchRequestID = req.Search.RequestID
		e.SearchQuery = req.Search.Query
		e.SearchRank = req.Search.Rank
	}
	id, err := p.store.StoreFetchEvent(ctx, e)
	if err != nil {
		p.logger.Error("persist fetch event failed", "url", req.URL, "error", err)
		return 0
	}
	return id
}

func (p *Pipeline) persistPayload(ctx context.Context, eventID int64, req Request, out decision.Outcome, src Source, scored scorer.Result, content string) {
	evidence, err := json.Marshal(scored.Evidence)
	if err != nil {
		evidence = []byte("[]")
	}
	_, err = p.store.StoreFlaggedPayload(ctx, &store.FlaggedPayload{
		FetchEventID: eventID,
		ResultID:     req.ResultID,
		URL:          req.URL,
		Domain:       src.Domain,
		Score:        out.Score,
		Flags:        out.Flags,
		Evidence:     evidence,
		Reason:       out.Reason,
		Content:      content,
	})
	if err != nil {
		p.logger.Error("persist flagged payload failed", "url", req.URL, "error", err)
	}
}

func traceKind(k string) string {
	switch k {
	case TraceSearchResultFetch, TraceDirectWebFetch:
		return k
	}
	return TraceUnknown
}

// Summary returns the first 120 whitespace-separated words of content,
// capped at 600 chars.
func Summary(content string) string {
	words := strings.Fields(content)
	if len(words) > 120 {
		words = words[:120]
	}
	s := strings.Join(words, " ")
	if len(s) > 600 {
		runes := []rune(s)
		if len(runes) > 600 {
			runes = runes[:600]
		}
		s = string(runes)
	}
	return s
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
