package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Waffleophagus/claw-rubber/config"
	"github.com/Waffleophagus/claw-rubber/dbopen"
	"github.com/Waffleophagus/claw-rubber/fetcher"
	"github.com/Waffleophagus/claw-rubber/httpapi"
	"github.com/Waffleophagus/claw-rubber/judge"
	"github.com/Waffleophagus/claw-rubber/pipeline"
	"github.com/Waffleophagus/claw-rubber/ratequeue"
	"github.com/Waffleophagus/claw-rubber/scorer"
	"github.com/Waffleophagus/claw-rubber/search"
	"github.com/Waffleophagus/claw-rubber/store"
	_ "modernc.org/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("CLAWRUBBER_CONFIG"), "path to YAML config")
		seedAllow  = flag.String("seed-allow", "", "comma-separated domains to seed into the runtime allowlist")
		seedBlock  = flag.String("seed-block", "", "comma-separated domains to seed into the runtime blocklist")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Database.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	st, err := store.New(db)
	if err != nil {
		slog.Error("store init", "error", err)
		os.Exit(1)
	}

	// Seed runtime lists from flags.
	for _, d := range config.SplitCSV(*seedAllow) {
		if err := st.AddRuntimeAllowlistDomain(ctx, d, "seeded"); err != nil {
			slog.Error("seed allowlist", "domain", d, "error", err)
			os.Exit(1)
		}
	}
	for _, d := range config.SplitCSV(*seedBlock) {
		if err := st.AddRuntimeBlocklistDomain(ctx, d, "seeded"); err != nil {
			slog.Error("seed blocklist", "domain", d, "error", err)
			os.Exit(1)
		}
	}

	settings := cfg.Settings()

	// Renderer backend.
	var renderer fetcher.Renderer
	var rendererCheck func(ctx context.Context) bool
	switch cfg.Renderer.Backend {
	case "browserless":
		bl := fetcher.NewBrowserless(fetcher.BrowserlessConfig{
			URL:             cfg.Renderer.URL,
			Token:           cfg.Renderer.Token,
			Timeout:         time.Duration(cfg.Renderer.TimeoutMs) * time.Millisecond,
			WaitUntil:       cfg.Renderer.WaitUntil,
			WaitForSelector: cfg.Renderer.WaitForSelector,
			BlockAds:        cfg.Renderer.BlockAds,
			MaxHTMLBytes:    cfg.Renderer.MaxHTMLBytes,
		})
		renderer = bl
		rendererCheck = bl.Ping
	case "rod":
		rd := fetcher.NewRod(fetcher.RodConfig{
			RemoteURL:    cfg.Renderer.URL,
			Timeout:      time.Duration(cfg.Renderer.TimeoutMs) * time.Millisecond,
			WaitUntil:    cfg.Renderer.WaitUntil,
			MaxHTMLBytes: cfg.Renderer.MaxHTMLBytes,
			Logger:       logger,
		})
		renderer = rd
		defer rd.Close()
	}

	f := fetcher.New(fetcher.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		MaxBytes:       settings.MaxFetchBytes,
		Timeout:        settings.FetchTimeout,
		MaxRedirects:   settings.MaxRedirects,
		Renderer:       renderer,
		FallbackToHTTP: cfg.Renderer.FallbackToHTTP,
		MaxHTMLBytes:   cfg.Renderer.MaxHTMLBytes,
		Logger:         logger,
	})

	// Judge (optional).
	var j *judge.Judge
	if cfg.Judge.Enabled {
		j = judge.New(judge.Config{
			Provider: cfg.Judge.Provider,
			Model:    cfg.Judge.Model,
			Endpoint: cfg.Judge.Endpoint,
			APIKey:   cfg.Judge.APIKey,
			Logger:   logger,
		})
	}

	sc := scorer.New(config.SplitCSV(cfg.Policy.LanguageNameAllowlistExtra))

	pipe := pipeline.New(st, f, sc, j, pipeline.Config{
		StaticAllowlist:   config.SplitCSV(cfg.Policy.Allowlist),
		StaticBlocklist:   config.SplitCSV(cfg.Policy.Blocklist),
		MediumThreshold:   settings.MediumThreshold,
		BlockThreshold:    settings.BlockThreshold,
		MaxExtractedChars: settings.MaxExtractedChars,
		FailClosed:        cfg.Policy.FailClosed,
	}, logger)

	// Search queue + client.
	rps, err := cfg.SearchRPS()
	if err != nil {
		slog.Error("rate limit tier", "error", err)
		os.Exit(1)
	}
	queue := ratequeue.New(rps, cfg.Search.QueueMax)
	queue.Start(ctx)

	searcher := search.NewBrave(search.Config{
		Endpoint:   cfg.Search.Endpoint,
		APIKey:     cfg.Search.APIKey,
		RetryOn429: cfg.Search.RetryOn429,
		RetryMax:   cfg.Search.RetryMax,
		UserAgent:  cfg.Fetch.UserAgent,
	})

	// Retention sweeper.
	store.NewSweeper(st, cfg.RetentionDays, 0, logger).Start(ctx)

	// HTTP surface.
	api := httpapi.NewServer(cfg, st, pipe, queue, searcher, logger)
	if rendererCheck != nil {
		api.SetRendererCheck(rendererCheck)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("claw-rubber listening", "addr", cfg.ListenAddr, "profile", cfg.Profile)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown", "error", err)
	}
}
