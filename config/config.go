// Package config loads the claw-rubber configuration snapshot.
//
// Sources, in increasing precedence: built-in defaults, an optional YAML
// file, environment variables. The snapshot is immutable after Load; every
// component receives the values it needs at construction time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration snapshot.
type Config struct {
	Profile string `yaml:"profile"` // baseline | strict | paranoid

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	DBPath     string `yaml:"db_path"`

	Search    SearchConfig    `yaml:"search"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Renderer  RendererConfig  `yaml:"renderer"`
	Judge     JudgeConfig     `yaml:"judge"`
	Policy    PolicyConfig    `yaml:"policy"`
	Dashboard DashboardConfig `yaml:"dashboard"`

	ResultTTLMinutes int `yaml:"result_ttl_minutes"`
	RetentionDays    int `yaml:"retention_days"`
}

// SearchConfig configures the upstream search client and its queue.
type SearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Tier       string `yaml:"tier"` // free|paid|base|pro or a positive integer rps
	QueueMax   int    `yaml:"queue_max"`
	RetryOn429 bool   `yaml:"retry_on_429"`
	RetryMax   int    `yaml:"retry_max"`
	RedactURLs bool   `yaml:"redact_urls"`
}

// FetchConfig configures the content fetcher.
type FetchConfig struct {
	UserAgent             string `yaml:"user_agent"`
	ExposeSafeContentURLs bool   `yaml:"expose_safe_content_urls"`
}

// RendererConfig configures the optional headless-render backend.
type RendererConfig struct {
	Backend         string `yaml:"backend"` // none | browserless | rod
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	WaitUntil       string `yaml:"wait_until"` // domcontentloaded | load | networkidle
	WaitForSelector string `yaml:"wait_for_selector"`
	MaxHTMLBytes    int64  `yaml:"max_html_bytes"`
	FallbackToHTTP  bool   `yaml:"fallback_to_http"`
	BlockAds        bool   `yaml:"block_ads"`
}

// JudgeConfig configures the optional LLM adjudicator.
type JudgeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// PolicyConfig holds the static domain lists and scorer tuning.
type PolicyConfig struct {
	Allowlist                  string `yaml:"allowlist"`                     // csv
	Blocklist                  string `yaml:"blocklist"`                     // csv
	LanguageNameAllowlistExtra string `yaml:"language_name_allowlist_extra"` // csv
	FailClosed                 bool   `yaml:"fail_closed"`
}

// DashboardConfig gates the admin write surface.
type DashboardConfig struct {
	WriteAPIEnabled bool `yaml:"write_api_enabled"`
}

func (c *Config) defaults() {
	if c.Profile == "" {
		c.Profile = "strict"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8086"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DBPath == "" {
		c.DBPath = "db/clawrubber.db"
	}
	if c.Search.Tier == "" {
		c.Search.Tier = "free"
	}
	if c.Search.QueueMax <= 0 {
		c.Search.QueueMax = 10
	}
	if c.Search.RetryMax <= 0 {
		c.Search.RetryMax = 1
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "claw-rubber/1.0 (+https://github.com/Waffleophagus/claw-rubber)"
	}
	if c.Renderer.Backend == "" {
		c.Renderer.Backend = "none"
	}
	if c.Renderer.TimeoutMs <= 0 {
		c.Renderer.TimeoutMs = 20_000
	}
	if c.Renderer.WaitUntil == "" {
		c.Renderer.WaitUntil = "load"
	}
	if c.Renderer.MaxHTMLBytes <= 0 {
		c.Renderer.MaxHTMLBytes = 3 << 20
	}
	if c.ResultTTLMinutes <= 0 {
		c.ResultTTLMinutes = 30
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
}

// Load builds the configuration snapshot. path may be "" (no file).
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Booleans whose default is true must be set before YAML/env
		// overlays so an absent key keeps the safe default.
		Search: SearchConfig{RetryOn429: true, RedactURLs: true},
		Fetch:  FetchConfig{ExposeSafeContentURLs: true},
		Policy: PolicyConfig{FailClosed: true},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.defaults()

	if _, ok := Profiles[cfg.Profile]; !ok {
		return nil, fmt.Errorf("config: unknown profile %q", cfg.Profile)
	}
	if _, err := cfg.SearchRPS(); err != nil {
		return nil, err
	}
	switch cfg.Renderer.Backend {
	case "none", "browserless", "rod":
	default:
		return nil, fmt.Errorf("config: unknown renderer backend %q", cfg.Renderer.Backend)
	}
	return cfg, nil
}

// applyEnv overlays CLAWRUBBER_* environment variables on the snapshot.
func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "1" || strings.EqualFold(v, "true")
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("CLAWRUBBER_PROFILE", &c.Profile)
	str("CLAWRUBBER_LISTEN_ADDR", &c.ListenAddr)
	str("CLAWRUBBER_LOG_LEVEL", &c.LogLevel)
	str("CLAWRUBBER_DB_PATH", &c.DBPath)
	str("CLAWRUBBER_SEARCH_ENDPOINT", &c.Search.Endpoint)
	str("CLAWRUBBER_SEARCH_API_KEY", &c.Search.APIKey)
	str("CLAWRUBBER_SEARCH_TIER", &c.Search.Tier)
	integer("CLAWRUBBER_QUEUE_MAX", &c.Search.QueueMax)
	boolean("CLAWRUBBER_RETRY_ON_429", &c.Search.RetryOn429)
	integer("CLAWRUBBER_RETRY_MAX", &c.Search.RetryMax)
	boolean("CLAWRUBBER_REDACT_URLS", &c.Search.RedactURLs)
	boolean("CLAWRUBBER_EXPOSE_SAFE_CONTENT_URLS", &c.Fetch.ExposeSafeContentURLs)
	str("CLAWRUBBER_USER_AGENT", &c.Fetch.UserAgent)
	str("CLAWRUBBER_RENDERER_BACKEND", &c.Renderer.Backend)
	str("CLAWRUBBER_RENDERER_URL", &c.Renderer.URL)
	str("CLAWRUBBER_RENDERER_TOKEN", &c.Renderer.Token)
	boolean("CLAWRUBBER_RENDERER_FALLBACK", &c.Renderer.FallbackToHTTP)
	boolean("CLAWRUBBER_JUDGE_ENABLED", &c.Judge.Enabled)
	str("CLAWRUBBER_JUDGE_PROVIDER", &c.Judge.Provider)
	str("CLAWRUBBER_JUDGE_MODEL", &c.Judge.Model)
	str("CLAWRUBBER_JUDGE_ENDPOINT", &c.Judge.Endpoint)
	str("CLAWRUBBER_JUDGE_API_KEY", &c.Judge.APIKey)
	str("CLAWRUBBER_ALLOWLIST", &c.Policy.Allowlist)
	str("CLAWRUBBER_BLOCKLIST", &c.Policy.Blocklist)
	str("CLAWRUBBER_LANGUAGE_ALLOWLIST_EXTRA", &c.Policy.LanguageNameAllowlistExtra)
	boolean("CLAWRUBBER_FAIL_CLOSED", &c.Policy.FailClosed)
	integer("CLAWRUBBER_RESULT_TTL_MINUTES", &c.ResultTTLMinutes)
	integer("CLAWRUBBER_RETENTION_DAYS", &c.RetentionDays)
	boolean("CLAWRUBBER_DASHBOARD_WRITE_API", &c.Dashboard.WriteAPIEnabled)
}

// SearchRPS resolves the rate-limit tier (or numeric override) to requests
// per second. The tier table: free=1, paid=20, base=20, pro=50.
func (c *Config) SearchRPS() (int, error) {
	switch strings.ToLower(c.Search.Tier) {
	case "free":
		return 1, nil
	case "paid", "base":
		return 20, nil
	case "pro":
		return 50, nil
	}
	n, err := strconv.Atoi(c.Search.Tier)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("config: invalid rate-limit tier %q", c.Search.Tier)
	}
	return n, nil
}

// Settings returns the active profile's threshold tuple.
func (c *Config) Settings() ProfileSettings {
	return Profiles[c.Profile]
}

// ResultTTL returns the search-result cache lifetime.
func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLMinutes) * time.Minute
}

// SplitCSV splits a comma-separated config value into trimmed, non-empty items.
func SplitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
