package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/passdeck/passdeck/internal/api"
	"github.com/passdeck/passdeck/internal/client"
	"github.com/passdeck/passdeck/internal/config"
	"github.com/passdeck/passdeck/internal/console"
	"github.com/passdeck/passdeck/internal/health"
	"github.com/passdeck/passdeck/internal/metrics"
	"github.com/passdeck/passdeck/internal/notify"
	"github.com/passdeck/passdeck/internal/session"
	"github.com/passdeck/passdeck/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to configuration file (defaults are used when empty)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := new(slog.LevelVar)
	setupLogging(level)

	slog.Info("passdeck starting...")

	// Load configuration
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	applyLevel(level, cfg.Log, *debug)
	slog.Info("configuration loaded", "path", *configPath, "api", cfg.API.BaseURL, "storage", cfg.Storage.Driver)
	slog.Debug("effective configuration", "config", cfg.Redacted())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := storage.Open(ctx, storage.Options{
		Driver:    cfg.Storage.Driver,
		Path:      cfg.Storage.Path,
		RedisURL:  cfg.Storage.RedisURL,
		KeyPrefix: cfg.Storage.KeyPrefix,
	})
	cancel()
	if err != nil {
		slog.Error("failed to open storage", "err", err)
		os.Exit(1)
	}

	// Initialize components
	m := metrics.New()
	apiClient := client.New(client.Config{
		BaseURL:            cfg.API.BaseURL,
		APIKey:             cfg.API.APIKey,
		InsecureSkipVerify: cfg.API.InsecureSkipVerify,
		Timeout:            cfg.API.Timeout,
		RateLimit:          cfg.API.RateLimit,
		Burst:              cfg.API.Burst,
	})

	cache := session.New(session.Options{
		Store:     store,
		Transport: apiClient,
		Interval:  cfg.Session.RevalidateInterval,
		LoginPath: cfg.Session.LoginPath,
		Redirect: func(path string) {
			slog.Info("session ended, operator must log in again", "login_path", path)
		},
		Recorder: m,
	})
	startCtx, startCancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
	cache.Init(startCtx)
	result := cache.Check(startCtx, true)
	startCancel()
	slog.Info("session checked", "result", result, "authenticated", cache.Authenticated())

	feed := notify.NewFeed(notify.DefaultFeedSize)
	c := console.New(context.Background(), console.Options{
		API:      apiClient,
		Session:  cache,
		Prefs:    storage.NewPrefs(store),
		Notifier: notify.Multi{notify.LogSink{}, feed},
		Recorder: m,
		PageSize: cfg.Views.DefaultPageSize,
	})

	// Start background view refresh
	hc := health.NewChecker(m, health.Config{
		Interval:         cfg.Views.RefreshInterval,
		FailureThreshold: cfg.Views.FailureThreshold,
		Timeout:          cfg.API.Timeout,
	})
	for _, v := range c.Views() {
		hc.Register(v)
	}
	hc.Start()

	// Start gateway
	apiServer := api.NewServer(c, feed, hc, m, cfg.Listen)
	if err := apiServer.Start(); err != nil {
		slog.Error("failed to start gateway", "err", err)
		os.Exit(1)
	}

	// Set up config hot-reload
	var configWatcher *config.Watcher
	if *configPath != "" {
		configWatcher, err = config.NewWatcher(*configPath, func(newCfg *config.Config) {
			slog.Info("reloading configuration...")
			applyLevel(level, newCfg.Log, *debug)
			c.ApplyDefaults(context.Background(), newCfg.Views.DefaultPageSize)
		})
		if err != nil {
			slog.Warn("config hot-reload not available", "err", err)
		}
	}

	slog.Info("passdeck ready", "listen", cfg.Listen.Addr(), "control_plane", apiClient.BaseURL())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down...", "signal", sig)

	// Graceful shutdown with timeout
	done := make(chan struct{})
	go func() {
		if configWatcher != nil {
			configWatcher.Stop()
		}
		apiServer.Stop()
		hc.Stop()
		c.Close()
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "err", err)
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("passdeck stopped")
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out, forcing exit", "timeout", shutdownTimeout)
		os.Exit(1)
	}
}

// setupLogging installs a text handler on terminals and JSON otherwise.
func setupLogging(level *slog.LevelVar) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func applyLevel(level *slog.LevelVar, lc config.LogConfig, debug bool) {
	if debug {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(lc.SlogLevel())
}
