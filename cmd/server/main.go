package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"kasirinaja/terminal/internal/app"
	"kasirinaja/terminal/internal/config"
	"kasirinaja/terminal/internal/httpapi"
	"kasirinaja/terminal/internal/jobs"
	"kasirinaja/terminal/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Default().Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close error", slog.Any("error", err))
		}
	}()

	registrar, closeRegistrar := newRegistrar(cfg)
	defer func() {
		if err := closeRegistrar(); err != nil {
			logger.Warn("close registrar", slog.Any("error", err))
		}
	}()

	svc := service.New(rt.Repo, service.Options{
		Device:             cfg.Device(),
		BusinessLocationID: cfg.BusinessLocationID,
		StoreLocationID:    cfg.StoreLocationID,
		ReceiptPrefix:      cfg.ReceiptPrefix,
		BillPrefix:         cfg.BillPrefix,
		StorageTimeout:     cfg.StorageTimeout,
		Trigger:            jobs.NewTrigger(registrar, cfg.RegistrationTimeout),
		Logger:             logger,
	})
	api, err := httpapi.New(svc, rt.Reconciler, rt.Catalog, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Metrics:       rt.Metrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	server := newHTTPServer(cfg, api.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("POS terminal listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if cfg.PullCatalogOnStart {
			res := rt.Catalog.Pull(gctx, "", "")
			logger.Info("startup catalog pull", slog.Bool("success", res.Success), slog.String("message", res.Message))
		}
		err := rt.Reconciler.Run(gctx, cfg.SyncInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// newRegistrar enqueues deferred sweeps on Redis when it is configured.
// Without it the periodic loop is the only retry path.
func newRegistrar(cfg config.Config) (jobs.Registrar, func() error) {
	if !cfg.RedisEnabled() {
		return jobs.NoopRegistrar{}, func() error { return nil }
	}
	registrar := jobs.NewAsynqRegistrar(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.SyncDelay)
	return registrar, registrar.Close
}

func newHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Manual sweeps submit records one by one, each bounded by the
		// remote timeout.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}
