// Package search talks to the upstream web-search API.
//
// The pipeline is provider-agnostic: adapters map provider fields onto
// Result. The one adapter shipped is Brave-style JSON over GET.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Query is one upstream search request.
type Query struct {
	Query      string
	Count      int    // 1..20
	Country    string // optional
	SearchLang string // optional
	Safesearch string // off | moderate | strict
	Freshness  string // optional
}

// Result is one provider-agnostic search hit.
type Result struct {
	URL       string
	Title     string
	Snippet   string
	Source    string
	Published string // optional, provider format
}

// Client is the upstream search contract.
type Client interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

// ErrUpstream wraps non-retryable upstream failures.
var ErrUpstream = errors.New("search: upstream failure")

// Config configures the Brave adapter.
type Config struct {
	Endpoint   string // default: the Brave web search endpoint
	APIKey     string
	RetryOn429 bool
	RetryMax   int
	UserAgent  string

	Client *http.Client

	// sleep is swapped in tests to observe retry delays.
	sleep func(ctx context.Context, d time.Duration) error
}

const defaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

func (c *Config) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoint
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 1
	}
	if c.UserAgent == "" {
		c.UserAgent = "claw-rubber/1.0"
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
}

// Brave is the Brave Search API adapter.
type Brave struct {
	cfg Config
}

// NewBrave creates the adapter.
func NewBrave(cfg Config) *Brave {
	cfg.defaults()
	return &Brave{cfg: cfg}
}

// braveEnvelope mirrors the slice of the Brave response the proxy reads.
type braveEnvelope struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
			Profile     struct {
				Name string `json:"name"`
			} `json:"profile"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements Client. On HTTP 429 it retries up to RetryMax times when
// RetryOn429 is set; any other non-2xx fails without retry.
func (b *Brave) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Count < 1 {
		q.Count = 10
	}
	if q.Count > 20 {
		q.Count = 20
	}
	if q.Safesearch == "" {
		q.Safesearch = "moderate"
	}

	endpoint, err := b.buildURL(q)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if b.cfg.RetryOn429 {
		attempts += b.cfg.RetryMax
	}

	for attempt := range attempts {
		results, retryAfter, err := b.once(ctx, endpoint)
		if err == nil {
			return results, nil
		}
		if retryAfter < 0 || attempt == attempts-1 {
			return nil, err
		}
		if serr := b.cfg.sleep(ctx, retryAfter); serr != nil {
			return nil, serr
		}
	}
	// attempts >= 1, so the loop always returns.
	return nil, fmt.Errorf("%w: retries exhausted", ErrUpstream)
}

// once performs one upstream call. A negative retryAfter means the error is
// not retryable.
func (b *Brave) once(ctx context.Context, endpoint string) ([]Result, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, -1, fmt.Errorf("search: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", b.cfg.UserAgent)
	if b.cfg.APIKey != "" {
		req.Header.Set("X-Subscription-Token", b.cfg.APIKey)
	}

	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		return nil, -1, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, retryDelay(resp.Header), fmt.Errorf("%w: http 429", ErrUpstream)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, -1, fmt.Errorf("%w: http %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, -1, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	var env braveEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, -1, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}

	results := make([]Result, 0, len(env.Web.Results))
	for _, r := range env.Web.Results {
		source := r.Profile.Name
		if source == "" {
			source = "brave"
		}
		results = append(results, Result{
			URL:       r.URL,
			Title:     r.Title,
			Snippet:   r.Description,
			Source:    source,
			Published: r.PageAge,
		})
	}
	return results, -1, nil
}

func (b *Brave) buildURL(q Query) (string, error) {
	u, err := url.Parse(b.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("search: endpoint: %w", err)
	}
	vals := u.Query()
	vals.Set("q", q.Query)
	vals.Set("count", strconv.Itoa(q.Count))
	vals.Set("safesearch", q.Safesearch)
	if q.Country != "" {
		vals.Set("country", q.Country)
	}
	if q.SearchLang != "" {
		vals.Set("search_lang", q.SearchLang)
	}
	if q.Freshness != "" {
		vals.Set("freshness", q.Freshness)
	}
	u.RawQuery = vals.Encode()
	return u.String(), nil
}

// retryDelay reads the 429 backoff hint: Retry-After seconds first, then
// X-RateLimit-Reset (delta-seconds if small, epoch-seconds otherwise),
// else 1000 ms. Uniform [0, 250) ms jitter is added unless the sum would
// overflow time.Duration (a far-future reset saturates time.Until).
func retryDelay(h http.Header) time.Duration {
	base := time.Second

	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			base = time.Duration(secs) * time.Second
		}
	} else if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			if n <= 1_000_000_000 {
				base = time.Duration(n) * time.Second
			} else {
				until := time.Until(time.Unix(n, 0))
				if until > 0 {
					base = until
				}
			}
		}
	}

	jitter := time.Duration(rand.Int64N(int64(250 * time.Millisecond)))
	if base+jitter < base {
		return base
	}
	return base + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
