package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"testing"
)

// openValidator lets tests reach the loopback httptest server over http.
func openValidator(ctx context.Context, u *url.URL) error { return nil }

func newTestFetcher(t *testing.T, mut func(*Config)) *Fetcher {
	t.Helper()
	cfg := Config{
		MaxBytes:     1 << 20,
		MaxRedirects: 3,
		ValidateURL:  openValidator,
	}
	if mut != nil {
		mut(&cfg)
	}
	return New(cfg)
}

func TestBlockedIP_Tables(t *testing.T) {
	// WHAT: Every blocked range refuses, including IPv4-mapped IPv6.
	// WHY: The SSRF closure invariant is the fetcher's whole reason to exist.
	blocked := []string{
		"0.1.2.3", "10.0.0.1", "100.64.1.1", "127.0.0.1", "169.254.169.254",
		"172.16.5.5", "192.0.0.1", "192.0.2.9", "192.168.1.1", "198.18.0.1",
		"198.51.100.7", "203.0.113.99", "224.0.0.251", "255.255.255.255",
		"::", "::1", "fc00::1", "fe80::1", "ff02::1", "2001:db8::1",
		"::ffff:127.0.0.1", "::ffff:10.0.0.1", "::ffff:192.168.0.10",
	}
	for _, s := range blocked {
		if !blockedIP(netip.MustParseAddr(s)) {
			t.Errorf("%s should be blocked", s)
		}
	}
	public := []string{"8.8.8.8", "1.1.1.1", "93.184.216.34", "2606:4700::1111"}
	for _, s := range public {
		if blockedIP(netip.MustParseAddr(s)) {
			t.Errorf("%s should be public", s)
		}
	}
}

func TestCheckHost_IPLiteral(t *testing.T) {
	// WHAT: IP literals are refused even when the address is public.
	err := checkHost(context.Background(), nil, "8.8.8.8")
	if !errors.Is(err, ErrNonPublicHost) {
		t.Errorf("err = %v, want ErrNonPublicHost", err)
	}
	err = checkHost(context.Background(), nil, "[::1]")
	if !errors.Is(err, ErrNonPublicHost) {
		t.Errorf("err = %v, want ErrNonPublicHost", err)
	}
}

func TestCheckURL_SchemeGate(t *testing.T) {
	for _, raw := range []string{"http://example.com/", "ftp://example.com/", "file:///etc/passwd"} {
		u, _ := url.Parse(raw)
		if err := checkURL(context.Background(), nil, u); !errors.Is(err, ErrNotHTTPS) {
			t.Errorf("%s: err = %v, want ErrNotHTTPS", raw, err)
		}
	}
}

func TestFetchPlain_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != acceptHeader {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>hello</body></html>")
	}))
	defer srv.Close()

	res, err := newTestFetcher(t, nil).FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if res.BackendUsed != "http" || res.Rendered || res.FallbackUsed {
		t.Errorf("backend metadata wrong: %+v", res)
	}
	if res.ContentType != "text/html" {
		t.Errorf("content type = %q", res.ContentType)
	}
	if !strings.Contains(string(res.Body), "hello") {
		t.Errorf("body = %q", res.Body)
	}
}

func TestFetchPlain_RedirectWalk(t *testing.T) {
	// WHAT: Redirects are followed manually and the final URL is reported.
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			http.Redirect(w, r, "/b", http.StatusFound)
		case "/b":
			http.Redirect(w, r, "/final", http.StatusMovedPermanently)
		default:
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "landed")
		}
	}))
	defer srv.Close()

	res, err := newTestFetcher(t, nil).FetchPage(context.Background(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if !strings.HasSuffix(res.FinalURL, "/final") {
		t.Errorf("final url = %q", res.FinalURL)
	}
	if string(res.Body) != "landed" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestFetchPlain_RedirectCap(t *testing.T) {
	// WHAT: A chain longer than maxRedirects fails with too many redirects.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, func(c *Config) { c.MaxRedirects = 2 }).
		FetchPage(context.Background(), srv.URL+"/r")
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("err = %v, want ErrTooManyRedirects", err)
	}
}

func TestFetchPlain_RedirectHopValidated(t *testing.T) {
	// WHAT: A redirect to a host the validator rejects fails the fetch.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://internal.test/x", http.StatusFound)
	}))
	defer srv.Close()

	sentinel := errors.New("rejected hop")
	f := newTestFetcher(t, func(c *Config) {
		c.ValidateURL = func(ctx context.Context, u *url.URL) error {
			if u.Hostname() == "internal.test" {
				return sentinel
			}
			return nil
		}
	})
	_, err := f.FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want hop rejection", err)
	}
}

func TestFetchPlain_ContentTypeAllowlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-")
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, nil).FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, ErrBadContentType) {
		t.Errorf("err = %v, want ErrBadContentType", err)
	}
}

func TestFetchPlain_ByteCap(t *testing.T) {
	// WHAT: Bodies over maxFetchBytes abort.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, strings.Repeat("a", 2048))
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, func(c *Config) { c.MaxBytes = 1024 }).
		FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("err = %v, want ErrBodyTooLarge", err)
	}
}

func TestFetchPlain_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := newTestFetcher(t, nil).FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, ErrBadStatus) {
		t.Errorf("err = %v, want ErrBadStatus", err)
	}
}

// fakeRenderer implements Renderer for tests.
type fakeRenderer struct {
	finalURL string
	html     string
	err      error
}

func (f *fakeRenderer) Name() string { return "fake" }
func (f *fakeRenderer) Render(ctx context.Context, pageURL string) (string, []byte, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return f.finalURL, []byte(f.html), nil
}

func TestFetchRendered_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "static")
	}))
	defer srv.Close()

	f := newTestFetcher(t, func(c *Config) {
		c.Renderer = &fakeRenderer{html: "<p>rendered</p>"}
	})
	res, err := f.FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if !res.Rendered || res.BackendUsed != "fake" || res.FallbackUsed {
		t.Errorf("metadata wrong: %+v", res)
	}
	if string(res.Body) != "<p>rendered</p>" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestFetchRendered_FinalURLRevalidated(t *testing.T) {
	// WHAT: A renderer-returned final URL is re-checked before it is trusted.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "static")
	}))
	defer srv.Close()

	sentinel := errors.New("renderer landed somewhere bad")
	f := newTestFetcher(t, func(c *Config) {
		c.Renderer = &fakeRenderer{finalURL: "https://evil.internal/x", html: "<p>r</p>"}
		c.ValidateURL = func(ctx context.Context, u *url.URL) error {
			if u.Hostname() == "evil.internal" {
				return sentinel
			}
			return nil
		}
	})
	_, err := f.FetchPage(context.Background(), srv.URL)
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want revalidation failure", err)
	}
}

func TestFetchRendered_FallbackToHTTP(t *testing.T) {
	// WHAT: Renderer failure degrades to the plain path when configured.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "plain body")
	}))
	defer srv.Close()

	f := newTestFetcher(t, func(c *Config) {
		c.Renderer = &fakeRenderer{err: errors.New("chrome crashed")}
		c.FallbackToHTTP = true
	})
	res, err := f.FetchPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if !res.FallbackUsed || res.Rendered || res.BackendUsed != "http" {
		t.Errorf("metadata wrong: %+v", res)
	}

	// Without fallback the error surfaces.
	f2 := newTestFetcher(t, func(c *Config) {
		c.Renderer = &fakeRenderer{err: errors.New("chrome crashed")}
	})
	if _, err := f2.FetchPage(context.Background(), srv.URL); err == nil {
		t.Error("expected renderer error to surface")
	}
}
