package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRegistrar struct {
	block bool
	err   error
	tags  []string
}

func (s *stubRegistrar) Register(ctx context.Context, tag string) error {
	s.tags = append(s.tags, tag)
	if s.block {
		// Ignores ctx on purpose.
		time.Sleep(time.Second)
	}
	return s.err
}

func TestTriggerArmSucceeds(t *testing.T) {
	reg := &stubRegistrar{}
	err := NewTrigger(reg, time.Second).Arm(context.Background(), "sync-transactions")
	require.NoError(t, err)
	assert.Equal(t, []string{"sync-transactions"}, reg.tags)
}

func TestTriggerArmWrapsRegistrarError(t *testing.T) {
	boom := errors.New("redis down")
	err := NewTrigger(&stubRegistrar{err: boom}, time.Second).Arm(context.Background(), "sync-transactions")
	assert.ErrorIs(t, err, boom)
}

func TestTriggerArmGivesUpAfterTimeout(t *testing.T) {
	start := time.Now()
	err := NewTrigger(&stubRegistrar{block: true}, 20*time.Millisecond).Arm(context.Background(), "sync-transactions")
	assert.ErrorIs(t, err, ErrRegistrationTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNewTriggerDefaults(t *testing.T) {
	tr := NewTrigger(nil, 0)
	assert.Equal(t, DefaultRegistrationTimeout, tr.timeout)
	assert.NoError(t, tr.Arm(context.Background(), "x"))
}

func TestAsynqRegistrarFoldsDuplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := NewAsynqRegistrar(asynq.RedisClientOpt{Addr: mr.Addr()}, time.Minute)
	t.Cleanup(func() { _ = reg.Close() })

	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, "sync-transactions"))
	require.NoError(t, reg.Register(ctx, "sync-transactions"))

	scheduled, err := mr.ZMembers("asynq:{default}:scheduled")
	require.NoError(t, err)
	assert.Len(t, scheduled, 1)
}

func TestAsynqRegistrarReportsUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	reg := NewAsynqRegistrar(asynq.RedisClientOpt{Addr: addr, DialTimeout: 100 * time.Millisecond}, time.Minute)
	t.Cleanup(func() { _ = reg.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, reg.Register(ctx, "sync-transactions"))
}

type fakeSweeper struct {
	result  domain.SweepResult
	sources []string
}

func (f *fakeSweeper) Sweep(_ context.Context, source string) domain.SweepResult {
	f.sources = append(f.sources, source)
	return f.result
}

func sweepTask(t *testing.T, tag string) *asynq.Task {
	t.Helper()
	task, err := NewSyncSweepTask(SyncSweepPayload{Tag: tag})
	require.NoError(t, err)
	return task
}

func TestSweepHandlerRunsSweep(t *testing.T) {
	sweeper := &fakeSweeper{result: domain.SweepResult{Attempted: 2, Synced: 2}}
	h := NewSweepHandler(sweeper, quietLogger())

	require.NoError(t, h.Handle(context.Background(), sweepTask(t, "sync-transactions")))
	assert.Equal(t, []string{"background"}, sweeper.sources)
}

func TestSweepHandlerRetriesWhileRecordsFail(t *testing.T) {
	sweeper := &fakeSweeper{result: domain.SweepResult{Attempted: 2, Synced: 1, Failed: 1}}
	err := NewSweepHandler(sweeper, quietLogger()).Handle(context.Background(), sweepTask(t, "cron"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestSweepHandlerRetriesWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweeper := &fakeSweeper{result: domain.SweepResult{Pending: 3}}

	err := NewSweepHandler(sweeper, quietLogger()).Handle(ctx, sweepTask(t, "cron"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestSweepHandlerSkipsBadPayload(t *testing.T) {
	sweeper := &fakeSweeper{}
	task := asynq.NewTask(TaskSyncSweep, []byte("{not json"))

	err := NewSweepHandler(sweeper, quietLogger()).Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, sweeper.sources)
}

func TestSyncSweepPayloadIsStable(t *testing.T) {
	a := sweepTask(t, "sync-transactions")
	b := sweepTask(t, "sync-transactions")
	assert.Equal(t, a.Payload(), b.Payload())

	var decoded SyncSweepPayload
	require.NoError(t, json.Unmarshal(a.Payload(), &decoded))
	assert.Equal(t, "sync-transactions", decoded.Tag)
}

func TestRetryDelayCaps(t *testing.T) {
	assert.Equal(t, 30*time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 5*time.Minute, retryDelay(50, nil, nil))
}

func TestNewWorkerRequiresHandler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	assert.Error(t, err)
}
