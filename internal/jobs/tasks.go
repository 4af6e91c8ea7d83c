// Package jobs defers sync sweeps to a Redis-backed asynq queue so they
// run after a write even when nobody asks for them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"kasirinaja/terminal/internal/domain"
)

const (
	// QueueDefault is the queue sweeps are enqueued on.
	QueueDefault = "default"
	// TaskSyncSweep runs one reconciliation sweep.
	TaskSyncSweep = "sync:sweep"
)

// SyncSweepPayload carries the tag the sweep was armed with. It holds
// nothing time dependent so identical requests collapse under asynq.Unique.
type SyncSweepPayload struct {
	Tag string `json:"tag"`
}

func NewSyncSweepTask(payload SyncSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncSweep, data), nil
}

// Sweeper is satisfied by *reconcile.Reconciler.
type Sweeper interface {
	Sweep(ctx context.Context, source string) domain.SweepResult
}

// SweepHandler processes TaskSyncSweep tasks.
type SweepHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

func NewSweepHandler(sweeper Sweeper, logger *slog.Logger) *SweepHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepHandler{sweeper: sweeper, logger: logger}
}

// Handle runs a sweep. Records that still fail make the task return an
// error so asynq retries it with backoff.
func (h *SweepHandler) Handle(ctx context.Context, t *asynq.Task) error {
	if h == nil || h.sweeper == nil {
		return errors.New("sync sweep: handler not configured")
	}
	var payload SyncSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Warn("discard sync sweep task", slog.Any("error", err))
		return fmt.Errorf("decode sweep payload: %v: %w", err, asynq.SkipRetry)
	}

	result := h.sweeper.Sweep(ctx, "background")
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync sweep: %w", err)
	}
	logger := h.logger.With(
		slog.String("tag", payload.Tag),
		slog.Int("attempted", result.Attempted),
		slog.Int("synced", result.Synced),
		slog.Int("pending", result.Pending),
		slog.Int("failed", result.Failed),
	)
	if result.Failed > 0 {
		logger.Info("background sweep left failures")
		return fmt.Errorf("sync sweep: %d record(s) still failing", result.Failed)
	}
	logger.Info("background sweep finished")
	return nil
}

// retryDelay backs off linearly up to five minutes.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	d := time.Duration(n+1) * 30 * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
