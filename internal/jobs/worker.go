package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Worker wraps the asynq server and an optional scheduler for periodic
// sweeps.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

type WorkerConfig struct {
	RedisOpts asynq.RedisClientOpt
	Logger    *slog.Logger
	Sweeps    *SweepHandler
	// SweepCron schedules a sweep independent of writes; empty disables it.
	SweepCron string
}

// NewWorker runs sweeps one at a time: two sweeps on one store would only
// contend for the same records.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Sweeps == nil {
		return nil, errors.New("worker: sweep handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:    1,
		Queues:         map[string]int{QueueDefault: 1},
		RetryDelayFunc: retryDelay,
		Logger:         &asynqLogger{logger: cfg.Logger.With("component", "asynq")},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSyncSweep, cfg.Sweeps.Handle)

	var scheduler *asynq.Scheduler
	if cfg.SweepCron != "" {
		task, err := NewSyncSweepTask(SyncSweepPayload{Tag: "cron"})
		if err != nil {
			return nil, err
		}
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		if _, err := scheduler.Register(cfg.SweepCron, task,
			asynq.Queue(QueueDefault),
			asynq.Unique(time.Minute),
			asynq.MaxRetry(sweepMaxRetry),
		); err != nil {
			return nil, err
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	w.logger.Info("sync worker started", slog.Bool("cron", w.scheduler != nil))

	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// asynqLogger routes asynq's own logging through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any) { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any) { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
