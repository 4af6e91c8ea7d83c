package inflight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTrackerExclusiveUntilRelease(t *testing.T) {
	tr := NewLocalTracker()
	ctx := context.Background()

	ok, err := tr.Acquire(ctx, Key("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = tr.Acquire(ctx, Key("a"), time.Minute)
	assert.False(t, ok)

	ok, _ = tr.Acquire(ctx, Key("b"), time.Minute)
	assert.True(t, ok)

	require.NoError(t, tr.Release(ctx, Key("a")))
	ok, _ = tr.Acquire(ctx, Key("a"), time.Minute)
	assert.True(t, ok)
}

func TestLocalTrackerExpires(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tr := NewLocalTracker()
	tr.now = func() time.Time { return now }

	ok, _ := tr.Acquire(context.Background(), "k", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	ok, _ = tr.Acquire(context.Background(), "k", time.Second)
	assert.True(t, ok)
}

func TestLocalTrackerSingleWinner(t *testing.T) {
	tr := NewLocalTracker()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := tr.Acquire(context.Background(), "k", time.Minute); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func newRedisTracker(t *testing.T, mr *miniredis.Miniredis) *RedisTracker {
	t.Helper()
	tr := NewRedisTracker(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRedisTrackerSharedAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	api := newRedisTracker(t, mr)
	worker := newRedisTracker(t, mr)
	ctx := context.Background()

	require.NoError(t, api.Ping(ctx))

	ok, err := api.Acquire(ctx, Key("r1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = worker.Acquire(ctx, Key("r1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Only the owner can release.
	require.NoError(t, worker.Release(ctx, Key("r1")))
	assert.True(t, mr.Exists(Key("r1")))

	require.NoError(t, api.Release(ctx, Key("r1")))
	assert.False(t, mr.Exists(Key("r1")))

	ok, err = worker.Acquire(ctx, Key("r1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisTrackerMarkerExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRedisTracker(t, mr)
	b := newRedisTracker(t, mr)
	ctx := context.Background()

	ok, err := a.Acquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, mr.TTL("k"))

	mr.FastForward(11 * time.Second)
	ok, err = b.Acquire(ctx, "k", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// a's late release must not drop b's marker.
	require.NoError(t, a.Release(ctx, "k"))
	assert.True(t, mr.Exists("k"))
}

func TestRedisTrackerUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	tr := newRedisTracker(t, mr)
	mr.Close()

	_, err := tr.Acquire(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}
