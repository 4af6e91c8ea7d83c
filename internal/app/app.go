// Package app wires the store, remote client and sync components shared
// by the server and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"kasirinaja/terminal/internal/catalog"
	"kasirinaja/terminal/internal/config"
	"kasirinaja/terminal/internal/inflight"
	"kasirinaja/terminal/internal/observability"
	"kasirinaja/terminal/internal/reconcile"
	"kasirinaja/terminal/internal/remote"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/store/memory"
	pgstore "kasirinaja/terminal/internal/store/postgres"
	"kasirinaja/terminal/internal/store/sqlite"
)

// NewLogger returns a text or JSON slog.Logger per LOG_FORMAT.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Runtime holds the components both binaries build from one Config.
type Runtime struct {
	Config      config.Config
	Logger      *slog.Logger
	Repo        store.Repository
	Remote      *remote.Client
	Tracker     inflight.Tracker
	Metrics     *observability.Metrics
	SyncMetrics *observability.SyncMetrics
	Reconciler  *reconcile.Reconciler
	Catalog     *catalog.Syncer

	closers []func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	repo, closeRepo, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.Repo = repo
	if closeRepo != nil {
		rt.closers = append(rt.closers, closeRepo)
	}
	logger.Info("repository ready", "driver", cfg.StoreDriver)

	device := cfg.Device()
	if err := device.Validate(); err != nil {
		logger.Warn("device credentials missing; saves and sync will be refused until DEVICE_ID and DEVICE_KEY are set")
	}
	client, err := remote.New(remote.Config{
		BaseURL: cfg.RemoteBaseURL,
		Timeout: cfg.RemoteTimeout,
		Device:  device,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Remote = client

	rt.Tracker = rt.openTracker(ctx)
	rt.Metrics = observability.NewMetrics()
	rt.SyncMetrics = observability.NewSyncMetrics(rt.Metrics.Registerer())

	rt.Reconciler = reconcile.New(repo, client, reconcile.Options{
		Device:         device,
		Tracker:        rt.Tracker,
		InflightTTL:    cfg.InflightTTL,
		StorageTimeout: cfg.StorageTimeout,
		Metrics:        rt.SyncMetrics,
		Logger:         logger,
	})
	rt.Catalog = catalog.New(repo, client, catalog.Options{
		BusinessLocationID: cfg.BusinessLocationID,
		StoreLocationID:    cfg.StoreLocationID,
		Metrics:            rt.SyncMetrics,
		Logger:             logger,
	})
	return rt, nil
}

// openTracker prefers Redis so every process sees the same markers, and
// falls back to process-local markers when Redis is absent or down.
func (rt *Runtime) openTracker(ctx context.Context) inflight.Tracker {
	if !rt.Config.RedisEnabled() {
		rt.Logger.Info("in-flight markers: local")
		return inflight.NewLocalTracker()
	}
	tracker := inflight.NewRedisTracker(rt.Config.RedisAddr, rt.Config.RedisPassword, rt.Config.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := tracker.Ping(pingCtx); err != nil {
		_ = tracker.Close()
		rt.Logger.Warn("redis unavailable, using local in-flight markers", "error", err)
		return inflight.NewLocalTracker()
	}
	rt.closers = append(rt.closers, tracker.Close)
	rt.Logger.Info("in-flight markers: redis")
	return tracker
}

// OpenStore opens the repository named by STORE_DRIVER. The returned close
// func is nil for the memory store.
func OpenStore(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memory.NewSeeded(), nil, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, sqlite.Options{Path: cfg.SQLitePath, LogMode: cfg.LogLevel == "debug"})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := pgstore.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Close releases everything Build opened, in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
