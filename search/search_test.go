package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const braveBody = `{"web":{"results":[
	{"url":"https://example.com/a","title":"A","description":"first","profile":{"name":"Example"}},
	{"url":"https://example.org/b","title":"B","description":"second","page_age":"2026-07-01"}
]}}`

func TestSearch_ParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "bun runtime" {
			t.Errorf("q = %q", got)
		}
		if got := r.URL.Query().Get("safesearch"); got != "moderate" {
			t.Errorf("safesearch = %q, want moderate default", got)
		}
		if got := r.Header.Get("X-Subscription-Token"); got != "key123" {
			t.Errorf("token header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(braveBody))
	}))
	defer srv.Close()

	c := NewBrave(Config{Endpoint: srv.URL, APIKey: "key123"})
	results, err := c.Search(context.Background(), Query{Query: "bun runtime", Count: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Title != "A" || results[0].Source != "Example" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Source != "brave" {
		t.Errorf("missing source fallback: %+v", results[1])
	}
	if results[1].Published != "2026-07-01" {
		t.Errorf("published = %q", results[1].Published)
	}
}

func TestSearch_RetryOn429(t *testing.T) {
	// WHAT: First response 429 with Retry-After: 1; second succeeds. The
	// client sleeps ~1s (+ jitter < 250ms) and returns the parsed results.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(braveBody))
	}))
	defer srv.Close()

	var slept time.Duration
	cfg := Config{
		Endpoint:   srv.URL,
		RetryOn429: true,
		RetryMax:   1,
		sleep: func(ctx context.Context, d time.Duration) error {
			slept = d
			return nil
		},
	}
	results, err := NewBrave(cfg).Search(context.Background(), Query{Query: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || calls != 2 {
		t.Errorf("results=%d calls=%d", len(results), calls)
	}
	if slept < time.Second || slept >= time.Second+250*time.Millisecond {
		t.Errorf("slept %v, want [1s, 1.25s)", slept)
	}
}

func TestSearch_RetryMaxExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := Config{
		Endpoint:   srv.URL,
		RetryOn429: true,
		RetryMax:   2,
		sleep:      func(ctx context.Context, d time.Duration) error { return nil },
	}
	_, err := NewBrave(cfg).Search(context.Background(), Query{Query: "x"})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("err = %v, want ErrUpstream", err)
	}
}

func TestSearch_NoRetryWhenDisabled(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewBrave(Config{Endpoint: srv.URL}).Search(context.Background(), Query{Query: "x"})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (retry disabled)", calls)
	}
}

func TestSearch_OtherStatusNoRetry(t *testing.T) {
	// WHAT: 500s fail without retry even with retryOn429 set.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := Config{Endpoint: srv.URL, RetryOn429: true, RetryMax: 3,
		sleep: func(ctx context.Context, d time.Duration) error { return nil }}
	_, err := NewBrave(cfg).Search(context.Background(), Query{Query: "x"})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryDelay_Fallbacks(t *testing.T) {
	// WHAT: Retry-After wins; X-RateLimit-Reset delta/epoch next; 1s default.
	h := http.Header{}
	h.Set("Retry-After", "3")
	if d := retryDelay(h); d < 3*time.Second || d >= 3*time.Second+250*time.Millisecond {
		t.Errorf("Retry-After: %v", d)
	}

	h = http.Header{}
	h.Set("X-RateLimit-Reset", "2")
	if d := retryDelay(h); d < 2*time.Second || d >= 2*time.Second+250*time.Millisecond {
		t.Errorf("delta reset: %v", d)
	}

	h = http.Header{}
	h.Set("X-RateLimit-Reset", "99999999999") // epoch far future: treated as until-then
	if d := retryDelay(h); d < time.Hour {
		t.Errorf("epoch reset too small: %v", d)
	}

	h = http.Header{}
	if d := retryDelay(h); d < time.Second || d >= time.Second+250*time.Millisecond {
		t.Errorf("default: %v", d)
	}
}

func TestSearch_CountClamped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("count"); got != "20" {
			t.Errorf("count = %q, want clamped 20", got)
		}
		w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer srv.Close()

	if _, err := NewBrave(Config{Endpoint: srv.URL}).Search(context.Background(), Query{Query: "x", Count: 50}); err != nil {
		t.Fatal(err)
	}
}
