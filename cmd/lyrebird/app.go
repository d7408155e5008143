package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/basket/lyrebird/internal/audit"
	"github.com/basket/lyrebird/internal/bus"
	"github.com/basket/lyrebird/internal/config"
	"github.com/basket/lyrebird/internal/music"
	"github.com/basket/lyrebird/internal/otel"
	"github.com/basket/lyrebird/internal/pipeline"
	"github.com/basket/lyrebird/internal/presets"
	"github.com/basket/lyrebird/internal/store"
)

// startupError carries the reason code reported by fatalStartup.
type startupError struct {
	Code string
	Err  error
}

func (e *startupError) Error() string { return e.Code + ": " + e.Err.Error() }

func (e *startupError) Unwrap() error { return e.Err }

func reasonCode(err error) string {
	var se *startupError
	if errors.As(err, &se) {
		return se.Code
	}
	return "E_STARTUP"
}

// app is the wired runtime shared by the serve and run commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	provider *otel.Provider
	metrics  *otel.Metrics
	registry store.Registry
	bus      *bus.Bus
	catalog  *presets.Catalog
	service  *pipeline.Service
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	if opts != nil && opts.home != "" {
		return config.LoadFrom(opts.home)
	}
	return config.Load()
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	provider, err := otel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, &startupError{Code: "E_OTEL_INIT", Err: err}
	}
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, &startupError{Code: "E_OTEL_METRICS", Err: err}
	}

	registry, err := store.Open(ctx, store.Config{
		Driver:     cfg.Store.Driver,
		SQLitePath: cfg.Store.SQLitePath,
		RedisAddr:  cfg.Store.RedisAddr,
		RedisDB:    cfg.Store.RedisDB,
		KeyPrefix:  cfg.Store.KeyPrefix,
	})
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, &startupError{Code: "E_STORE_OPEN", Err: err}
	}
	if sq, ok := registry.(*store.SQLite); ok {
		audit.SetDB(sq.DB())
	}

	extra, err := presets.LoadFile(config.PresetsPath(cfg.HomeDir))
	if err != nil {
		_ = registry.Close()
		_ = provider.Shutdown(ctx)
		return nil, &startupError{Code: "E_PRESETS_LOAD", Err: err}
	}
	catalog := presets.NewCatalog(extra)

	eventBus := bus.New()
	svc := pipeline.New(pipeline.Config{
		Registry: registry,
		Composer: newComposer(cfg, logger),
		Presets:  catalog,
		Bus:      eventBus,
		Logger:   logger,
		Tracer:   provider.Tracer,
		Metrics:  metrics,
		Settings: settingsFrom(cfg),
	})

	logger.Info("runtime ready",
		"store", registry.Driver(),
		"presets", len(catalog.List()),
		"music_enabled", cfg.Music.Enabled && cfg.Music.APIKey != "",
		"config_fingerprint", cfg.Fingerprint(),
	)
	return &app{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		metrics:  metrics,
		registry: registry,
		bus:      eventBus,
		catalog:  catalog,
		service:  svc,
	}, nil
}

func (a *app) Close(ctx context.Context) error {
	a.bus.Close()
	audit.SetDB(nil)
	var errs []error
	if err := a.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.provider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func settingsFrom(cfg config.Config) pipeline.Settings {
	return pipeline.Settings{
		FactLimit:    cfg.Pipeline.FactLimit,
		MessageCount: cfg.Pipeline.MessageCount,
		GraphSchema:  cfg.Pipeline.GraphSchema,
		DebugEvents:  cfg.Pipeline.DebugEvents,
	}
}

func newComposer(cfg config.Config, logger *slog.Logger) music.Composer {
	client := music.NewMiniMax(music.MiniMaxConfig{
		Enabled:          cfg.Music.Enabled,
		APIKey:           cfg.Music.APIKey,
		Host:             cfg.Music.Host,
		Model:            cfg.Music.Model,
		FailureThreshold: uint32(max(cfg.Music.FailureThreshold, 0)),
		Cooldown:         cfg.MusicCooldown(),
		Logger:           logger,
	})
	return music.Composer{
		Client:  client,
		Host:    client.Host(),
		Timeout: cfg.MusicTimeout(),
		Logger:  logger,
	}
}
