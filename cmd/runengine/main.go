// Command runengine starts the browser-workflow run engine: it loads
// configuration, wires the store, browser pool, AI client, event bus,
// scheduler, and HTTP surface, then serves until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/oakfield/runengine/internal/aiclient"
	"github.com/oakfield/runengine/internal/browser"
	"github.com/oakfield/runengine/internal/config"
	"github.com/oakfield/runengine/internal/eventbus"
	"github.com/oakfield/runengine/internal/httpapi"
	"github.com/oakfield/runengine/internal/observability"
	"github.com/oakfield/runengine/internal/resolution"
	"github.com/oakfield/runengine/internal/runengine"
	"github.com/oakfield/runengine/internal/scheduler"
	"github.com/oakfield/runengine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("runengine: fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting run engine", "config", configPath, "store_driver", cfg.Store.Driver)

	st, err := newStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	var pool *browser.Pool
	if cfg.Browser.MaxInstances > 0 {
		pool, err = browser.NewPool(browser.Config{
			MaxInstances:   cfg.Browser.MaxInstances,
			Headless:       cfg.Browser.Headless,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			NavTimeout:     cfg.Browser.NavTimeout,
			RemoteURL:      cfg.Browser.RemoteURL,
		})
		if err != nil {
			logger.Warn("runengine: browser pool unavailable, every run falls back to simulation", "error", err)
			pool = nil
		} else {
			defer pool.Close()
		}
	}

	var ai runengine.AI
	if cfg.AI.APIKey != "" {
		client, err := aiclient.New(aiclient.Config{
			APIKey:         cfg.AI.APIKey,
			TextModel:      cfg.AI.TextModel,
			VisionModel:    cfg.AI.VisionModel,
			MaxRetries:     cfg.AI.MaxRetries,
			ThrottleWindow: cfg.AI.ThrottleWindow,
		})
		if err != nil {
			return fmt.Errorf("init AI client: %w", err)
		}
		ai = client
	} else {
		logger.Info("runengine: no AI API key configured, self-heal and the AI backend tier are disabled")
	}

	metrics := observability.NewMetrics()
	bus := eventbus.New()
	broker := resolution.New()

	var browserPool runengine.BrowserPool
	if pool != nil {
		browserPool = pool
	}
	engine := runengine.New(st, bus, broker, browserPool, ai, logger.With("component", "runengine"), metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(ctx, st, engine, scheduler.WithLogger(logger.With("component", "scheduler")), scheduler.WithTickInterval(cfg.Scheduler.TickInterval))
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	handler := httpapi.NewHandler(httpapi.Config{Engine: engine, Bus: bus, Logger: logger.With("component", "httpapi")})
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("runengine: HTTP server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("runengine: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("runengine: stopped gracefully")
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(cfg.DSN, store.PostgresConfig{})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
