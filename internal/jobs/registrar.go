package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Registrar records a request to sweep later.
type Registrar interface {
	Register(ctx context.Context, tag string) error
}

const (
	DefaultSweepDelay = 10 * time.Second
	sweepMaxRetry     = 5
)

// AsynqRegistrar enqueues a delayed TaskSyncSweep. Requests made while one
// is already waiting are folded into it.
type AsynqRegistrar struct {
	client    *asynq.Client
	delay     time.Duration
	uniqueFor time.Duration
}

func NewAsynqRegistrar(redisOpts asynq.RedisClientOpt, delay time.Duration) *AsynqRegistrar {
	if delay <= 0 {
		delay = DefaultSweepDelay
	}
	return &AsynqRegistrar{
		client:    asynq.NewClient(redisOpts),
		delay:     delay,
		uniqueFor: delay + time.Minute,
	}
}

func (r *AsynqRegistrar) Register(ctx context.Context, tag string) error {
	task, err := NewSyncSweepTask(SyncSweepPayload{Tag: tag})
	if err != nil {
		return err
	}
	_, err = r.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.ProcessIn(r.delay),
		asynq.Unique(r.uniqueFor),
		asynq.MaxRetry(sweepMaxRetry),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskSyncSweep, err)
	}
	return nil
}

func (r *AsynqRegistrar) Close() error {
	return r.client.Close()
}

// NoopRegistrar is used when no queue is configured. The in-app retry loop
// still picks records up.
type NoopRegistrar struct{}

func (NoopRegistrar) Register(context.Context, string) error { return nil }
