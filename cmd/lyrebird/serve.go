package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/basket/lyrebird/internal/audit"
	"github.com/basket/lyrebird/internal/config"
	"github.com/basket/lyrebird/internal/cron"
	"github.com/basket/lyrebird/internal/gateway"
	"github.com/basket/lyrebird/internal/telemetry"
)

const (
	bucketEvictInterval = time.Minute
	bucketMaxIdle       = 10 * time.Minute
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				fatalStartup(nil, "E_CONFIG_LOAD", err)
			}
			if err := audit.Init(cfg.HomeDir); err != nil {
				fatalStartup(nil, "E_AUDIT_INIT", err)
			}
			defer audit.Close()

			logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
			if err != nil {
				fatalStartup(nil, "E_LOGGER_INIT", err)
			}
			defer closer.Close()
			slog.SetDefault(logger)

			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "log to the home directory only")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fatalStartup(logger, reasonCode(err), err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout())
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	retention, err := cron.NewRetention(cron.Config{
		Store:    a.registry,
		Logger:   logger,
		Schedule: cfg.Retention.Schedule,
		MaxAge:   cfg.RetentionMaxAge(),
	})
	if err != nil {
		fatalStartup(logger, "E_RETENTION_SCHEDULE", err)
	}

	limiter := gateway.NewRateLimitMiddleware(cfg.RateLimit, a.metrics)
	var fingerprint atomic.Value
	fingerprint.Store(cfg.Fingerprint())

	gw := gateway.New(gateway.Config{
		Service:           a.service,
		Bus:               a.bus,
		Logger:            logger,
		Tracer:            a.provider.Tracer,
		Metrics:           a.metrics,
		Auth:              cfg.Auth,
		CORS:              cfg.CORS,
		RateLimit:         limiter,
		MaxBodyBytes:      cfg.MaxBodyBytes,
		ConfigFingerprint: func() string { return fingerprint.Load().(string) },
	})
	server := &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(gctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}

	g.Go(func() error {
		logger.Info("http server listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		gw.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return retention.Run(gctx)
	})
	if cfg.RateLimit.Enabled {
		g.Go(func() error {
			return limiter.RunEviction(gctx, bucketEvictInterval, bucketMaxIdle)
		})
	}
	g.Go(func() error {
		for ev := range watcher.Events() {
			applyReload(ev, cfg.HomeDir, a, retention, &fingerprint)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// applyReload hot-applies an edited config.yaml or presets.yaml. Listener,
// store, auth and CORS settings need a restart.
func applyReload(ev config.ReloadEvent, homeDir string, a *app, retention *cron.Retention, fingerprint *atomic.Value) {
	logger := a.logger.With("path", ev.Path)
	if ev.IsPresets() {
		if err := a.catalog.Reload(ev.Path); err != nil {
			logger.Error("presets reload rejected", "error", err)
			return
		}
		logger.Info("presets reloaded", "count", len(a.catalog.List()))
		return
	}

	next, err := config.LoadFrom(homeDir)
	if err != nil {
		logger.Error("config reload rejected", "error", err)
		return
	}
	a.service.SetSettings(settingsFrom(next))
	a.service.SetComposer(newComposer(next, a.logger))
	retention.SetMaxAge(next.RetentionMaxAge())
	fingerprint.Store(next.Fingerprint())
	logger.Info("config reloaded", "config_fingerprint", next.Fingerprint())
}
