package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// RodConfig configures the local-Chrome backend.
type RodConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome via launcher.
	RemoteURL string

	Timeout      time.Duration
	WaitUntil    string // "domcontentloaded" skips WaitLoad; anything else waits
	MaxHTMLBytes int64

	Logger *slog.Logger
}

// Rod renders pages in a locally managed headless Chrome.
type Rod struct {
	cfg RodConfig

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewRod creates the backend. Chrome starts lazily on first Render.
func NewRod(cfg RodConfig) *Rod {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxHTMLBytes <= 0 {
		cfg.MaxHTMLBytes = 3 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Rod{cfg: cfg}
}

// Name implements Renderer.
func (r *Rod) Name() string { return "rod" }

// Render implements Renderer.
func (r *Rod) Render(ctx context.Context, pageURL string) (string, []byte, error) {
	b, err := r.ensureBrowser()
	if err != nil {
		return "", nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return "", nil, fmt.Errorf("rod: create page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(pageURL); err != nil {
		return "", nil, fmt.Errorf("rod: navigate %s: %w", pageURL, err)
	}
	if r.cfg.WaitUntil != "domcontentloaded" {
		if err := p.WaitLoad(); err != nil {
			r.cfg.Logger.Warn("rod: wait load timeout", "url", pageURL, "error", err)
		}
	}

	html, err := p.HTML()
	if err != nil {
		return "", nil, fmt.Errorf("rod: serialize DOM: %w", err)
	}
	if int64(len(html)) > r.cfg.MaxHTMLBytes {
		return "", nil, fmt.Errorf("%w: rendered HTML %d bytes", ErrBodyTooLarge, len(html))
	}

	info, err := p.Info()
	if err != nil {
		return "", nil, fmt.Errorf("rod: page info: %w", err)
	}
	return info.URL, []byte(html), nil
}

// ensureBrowser connects on first use and reconnects after Close.
func (r *Rod) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rod: launch chrome: %w", err)
		}
		r.lnch = l
		wsURL = u
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if r.lnch != nil {
			r.lnch.Cleanup()
			r.lnch = nil
		}
		return nil, fmt.Errorf("rod: connect: %w", err)
	}
	r.browser = b
	return b, nil
}

// Close shuts down the browser and the launched Chrome process.
func (r *Rod) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	r.browser = nil
	return err
}
