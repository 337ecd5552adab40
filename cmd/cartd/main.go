// Command cartd is the grocery scraping daemon. It drives stored login
// sessions against delivery platforms over a shared Chrome instance and
// exposes search, order history, and cart building over HTTP.
//
// Usage:
//
//	cartd -config cartd.yaml
//	cartd -listen :8321
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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pantryops/cartd/admission"
	"github.com/pantryops/cartd/agent"
	"github.com/pantryops/cartd/api"
	"github.com/pantryops/cartd/browser"
	"github.com/pantryops/cartd/config"
	"github.com/pantryops/cartd/credstore"
	"github.com/pantryops/cartd/dbopen"
	"github.com/pantryops/cartd/journal"
	"github.com/pantryops/cartd/pricecache"
	"github.com/pantryops/cartd/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to cartd.yaml config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listen); err != nil {
		logger.Error("cartd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, listen string) error {
	var cfg *config.Config
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if cfg.Store.SealingKey == "" {
		return errors.New("cartd: store.sealing_key is required (64 hex chars)")
	}

	limits := make(map[string]admission.Limits, len(cfg.Platforms))
	for name, p := range cfg.Platforms {
		limits[name] = admission.Limits{
			MinDelay:      p.MinDelay,
			MaxConcurrent: p.MaxConcurrent,
			Cooldown:      p.Cooldown,
			MaxFailures:   p.MaxFailures,
		}
	}
	adm := admission.New(limits, logger)

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("cartd: start browser: %w", err)
	}
	defer mgr.Close()

	db, err := dbopen.Open(cfg.Store.Path, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("cartd: open database: %w", err)
	}
	defer db.Close()

	creds, err := credstore.New(credstore.Config{
		DB:         db,
		SealingKey: cfg.Store.SealingKey,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	cache, err := pricecache.New(pricecache.Config{
		DB:     db,
		TTL:    cfg.Cache.TTL,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	snaps, err := snapshot.New(snapshot.Config{
		DB:     db,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// Only configured platforms are drivable.
	profiles := make(map[string]agent.Platform)
	for name, prof := range agent.DefaultProfiles() {
		if _, ok := cfg.Platforms[name]; ok {
			profiles[name] = prof
		}
	}

	jr, err := journal.New(journal.Config{DB: db, Logger: logger})
	if err != nil {
		return err
	}
	defer jr.Close()

	ag := agent.New(agent.Config{
		Admission: adm,
		Browser:   mgr,
		Creds:     creds,
		Cache:     cache,
		Snapshots: snaps,
		Journal:   jr,
		Profiles:  profiles,
		Logger:    logger,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	api.New(ag, adm, creds, jr, logger).RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("cartd: listening", "addr", cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("cartd: http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("cartd: shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("cartd: shutdown: %w", err)
	}
	return nil
}
