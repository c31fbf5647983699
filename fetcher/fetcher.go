// Package fetcher retrieves page bytes safely.
//
// Every hop of every redirect chain — and any final URL a renderer hands
// back — passes the https-only and SSRF checks before it is trusted. The
// plain-HTTP path is always available; a renderer backend (browserless or
// rod) is layered on top with optional transparent fallback.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Errors surfaced by the fetcher.
var (
	ErrTooManyRedirects = errors.New("fetcher: too many redirects")
	ErrBodyTooLarge     = errors.New("fetcher: response body exceeds byte limit")
	ErrBadContentType   = errors.New("fetcher: content type not allowed")
	ErrBadStatus        = errors.New("fetcher: unexpected HTTP status")
)

// acceptHeader is sent on every request; only these types come back parsed.
const acceptHeader = "text/html,text/plain,application/xhtml+xml"

var allowedContentTypes = map[string]bool{
	"text/html":             true,
	"text/plain":            true,
	"application/xhtml+xml": true,
}

// Result is the outcome of FetchPage.
type Result struct {
	FinalURL     string
	ContentType  string
	Body         []byte
	BackendUsed  string // "http" | "browserless" | "rod"
	Rendered     bool
	FallbackUsed bool
}

// Renderer is a headless-render backend. Render returns the final URL the
// page settled on ("" if the backend does not know) and the rendered HTML.
type Renderer interface {
	Name() string
	Render(ctx context.Context, pageURL string) (finalURL string, html []byte, err error)
}

// Config configures a Fetcher.
type Config struct {
	UserAgent    string
	MaxBytes     int64
	Timeout      time.Duration // per-hop timeout
	MaxRedirects int

	// Renderer, when non-nil, is tried before the plain path.
	Renderer       Renderer
	FallbackToHTTP bool
	MaxHTMLBytes   int64 // ceiling for rendered HTML

	// ValidateURL guards every hop. Default: https-only + SSRF check.
	// Tests substitute a permissive validator.
	ValidateURL func(ctx context.Context, u *url.URL) error

	// Client issues requests. Default: redirect-opaque client with the
	// configured timeout.
	Client *http.Client

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = "claw-rubber/1.0"
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 1 << 20
	}
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 3
	}
	if c.MaxHTMLBytes <= 0 {
		c.MaxHTMLBytes = 3 << 20
	}
	if c.ValidateURL == nil {
		c.ValidateURL = func(ctx context.Context, u *url.URL) error {
			return checkURL(ctx, net.DefaultResolver, u)
		}
	}
	if c.Client == nil {
		// Redirects are walked manually so each hop is validated.
		c.Client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher retrieves pages. Safe for concurrent use.
type Fetcher struct {
	cfg Config
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	return &Fetcher{cfg: cfg}
}

// FetchPage retrieves rawURL through the configured backend.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetcher: parse url: %w", err)
	}
	if err := f.cfg.ValidateURL(ctx, u); err != nil {
		return nil, err
	}

	if f.cfg.Renderer != nil {
		res, err := f.fetchRendered(ctx, u)
		if err == nil {
			return res, nil
		}
		if !f.cfg.FallbackToHTTP {
			return nil, err
		}
		f.cfg.Logger.Warn("renderer failed, falling back to http",
			"backend", f.cfg.Renderer.Name(), "url", rawURL, "error", err)
		res, err = f.fetchPlain(ctx, u)
		if err != nil {
			return nil, err
		}
		res.FallbackUsed = true
		return res, nil
	}

	return f.fetchPlain(ctx, u)
}

// fetchPlain is the plain-HTTP path: manual redirect walk, then one
// byte-capped body read.
func (f *Fetcher) fetchPlain(ctx context.Context, u *url.URL) (*Result, error) {
	resp, finalURL, err := f.walkRedirects(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	contentType := strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0])
	if !allowedContentTypes[strings.ToLower(contentType)] {
		return nil, fmt.Errorf("%w: %q", ErrBadContentType, contentType)
	}

	body, err := readCapped(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		return nil, err
	}

	return &Result{
		FinalURL:    finalURL.String(),
		ContentType: contentType,
		Body:        body,
		BackendUsed: "http",
	}, nil
}

// walkRedirects follows up to MaxRedirects hops, validating every target.
// The returned response's body is open; the caller owns it.
func (f *Fetcher) walkRedirects(ctx context.Context, u *url.URL) (*http.Response, *url.URL, error) {
	cur := u
	for hop := 0; ; hop++ {
		resp, err := f.doGet(ctx, cur)
		if err != nil {
			return nil, nil, err
		}

		if resp.StatusCode < 300 || resp.StatusCode > 399 {
			return resp, cur, nil
		}

		loc := resp.Header.Get("Location")
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if loc == "" {
			return nil, nil, fmt.Errorf("%w: %d with no Location", ErrBadStatus, resp.StatusCode)
		}
		if hop+1 > f.cfg.MaxRedirects {
			return nil, nil, fmt.Errorf("%w: chain exceeds %d", ErrTooManyRedirects, f.cfg.MaxRedirects)
		}
		next, err := cur.Parse(loc)
		if err != nil {
			return nil, nil, fmt.Errorf("fetcher: bad redirect target %q: %w", loc, err)
		}
		if err := f.cfg.ValidateURL(ctx, next); err != nil {
			return nil, nil, err
		}
		cur = next
	}
}

// resolveFinalURL walks redirects discarding bodies, purely to learn where
// the chain lands. Used before submitting to a renderer.
func (f *Fetcher) resolveFinalURL(ctx context.Context, u *url.URL) (*url.URL, error) {
	resp, finalURL, err := f.walkRedirects(ctx, u)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}
	return finalURL, nil
}

// fetchRendered resolves the final URL over HTTP first, submits it to the
// renderer, then re-validates whatever the renderer claims it ended up on.
func (f *Fetcher) fetchRendered(ctx context.Context, u *url.URL) (*Result, error) {
	resolved, err := f.resolveFinalURL(ctx, u)
	if err != nil {
		return nil, err
	}

	rendererFinal, html, err := f.cfg.Renderer.Render(ctx, resolved.String())
	if err != nil {
		return nil, fmt.Errorf("fetcher: render: %w", err)
	}
	if int64(len(html)) > f.cfg.MaxHTMLBytes {
		return nil, fmt.Errorf("%w: rendered HTML %d bytes", ErrBodyTooLarge, len(html))
	}

	final := resolved
	if rendererFinal != "" {
		parsed, err := url.Parse(rendererFinal)
		if err != nil {
			return nil, fmt.Errorf("fetcher: renderer final url: %w", err)
		}
		final = parsed
	}
	if err := f.cfg.ValidateURL(ctx, final); err != nil {
		return nil, err
	}

	return &Result{
		FinalURL:    final.String(),
		ContentType: "text/html",
		Body:        html,
		BackendUsed: f.cfg.Renderer.Name(),
		Rendered:    true,
	}, nil
}

func (f *Fetcher) doGet(ctx context.Context, u *url.URL) (*http.Response, error) {
	hopCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	req, err := http.NewRequestWithContext(hopCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetcher: get %s: %w", u, err)
	}
	// Tie the timeout to the body: cancel fires when the body is closed.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// readCapped reads at most maxBytes; one byte more aborts.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetcher: read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: limit %d", ErrBodyTooLarge, maxBytes)
	}
	return data, nil
}
