package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"kasirinaja/terminal/internal/app"
	"kasirinaja/terminal/internal/config"
	"kasirinaja/terminal/internal/jobs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, os.Stdout)

	if err := checkWorkerConfig(cfg); err != nil {
		logger.Error("worker config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close error", slog.Any("error", err))
		}
	}()

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		Logger:    logger,
		Sweeps:    jobs.NewSweepHandler(rt.Reconciler, logger),
		SweepCron: cfg.SweepCron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// checkWorkerConfig refuses setups where a separate worker cannot see the
// terminal's records or the queue.
func checkWorkerConfig(cfg config.Config) error {
	if !cfg.RedisEnabled() {
		return errors.New("REDIS_ADDR is required to run the sync worker")
	}
	if cfg.StoreDriver == config.DriverMemory {
		return errors.New("the memory store is private to the server process; use sqlite or postgres")
	}
	return nil
}
