// Package inflight marks records that are currently being submitted so two
// sync paths never send the same record at the same time.
package inflight

import (
	"context"
	"sync"
	"time"
)

type Tracker interface {
	// Acquire claims key for ttl. It reports false when another holder
	// already has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

func Key(localID string) string {
	return "kasirinaja:inflight:" + localID
}

// LocalTracker guards one process.
type LocalTracker struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewLocalTracker() *LocalTracker {
	return &LocalTracker{entries: make(map[string]time.Time), now: time.Now}
}

func (t *LocalTracker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if expires, ok := t.entries[key]; ok && now.Before(expires) {
		return false, nil
	}
	t.entries[key] = now.Add(ttl)
	return true, nil
}

func (t *LocalTracker) Release(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
	return nil
}
