package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BrowserlessConfig configures the remote render service.
type BrowserlessConfig struct {
	URL             string // service endpoint
	Token           string
	Timeout         time.Duration
	WaitUntil       string // domcontentloaded | load | networkidle
	WaitForSelector string
	BlockAds        bool
	MaxHTMLBytes    int64

	Client *http.Client
}

// Browserless renders pages via a remote headless-Chrome service speaking
// the {url, waitUntil, ...} → {finalUrl?, html} contract.
type Browserless struct {
	cfg BrowserlessConfig
}

// NewBrowserless creates the backend.
func NewBrowserless(cfg BrowserlessConfig) *Browserless {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxHTMLBytes <= 0 {
		cfg.MaxHTMLBytes = 3 << 20
	}
	if cfg.WaitUntil == "" {
		cfg.WaitUntil = "load"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Browserless{cfg: cfg}
}

// Name implements Renderer.
func (b *Browserless) Name() string { return "browserless" }

// Ping reports whether the render service is reachable. Any HTTP response
// counts; only transport failures mean "down".
func (b *Browserless) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.URL, nil)
	if err != nil {
		return false
	}
	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

type browserlessRequest struct {
	URL             string `json:"url"`
	WaitUntil       string `json:"waitUntil,omitempty"`
	WaitForSelector string `json:"waitForSelector,omitempty"`
	BlockAds        bool   `json:"blockAds,omitempty"`
	TimeoutMs       int64  `json:"timeoutMs,omitempty"`
}

type browserlessResponse struct {
	FinalURL string `json:"finalUrl"`
	HTML     string `json:"html"`
}

// Render implements Renderer.
func (b *Browserless) Render(ctx context.Context, pageURL string) (string, []byte, error) {
	payload, err := json.Marshal(browserlessRequest{
		URL:             pageURL,
		WaitUntil:       b.cfg.WaitUntil,
		WaitForSelector: b.cfg.WaitForSelector,
		BlockAds:        b.cfg.BlockAds,
		TimeoutMs:       b.cfg.Timeout.Milliseconds(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("browserless: marshal: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("browserless: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}

	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("browserless: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", nil, fmt.Errorf("browserless: http %d", resp.StatusCode)
	}

	// The JSON envelope adds overhead on top of the HTML ceiling; 4/3 covers
	// escaping in practice.
	raw, err := readCapped(resp.Body, b.cfg.MaxHTMLBytes+b.cfg.MaxHTMLBytes/3)
	if err != nil {
		return "", nil, fmt.Errorf("browserless: %w", err)
	}

	var out browserlessResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", nil, fmt.Errorf("browserless: decode: %w", err)
	}
	if int64(len(out.HTML)) > b.cfg.MaxHTMLBytes {
		return "", nil, fmt.Errorf("%w: rendered HTML %d bytes", ErrBodyTooLarge, len(out.HTML))
	}
	return out.FinalURL, []byte(out.HTML), nil
}
