package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterSequencer struct {
	values map[string]int64
	err    error
}

func (c *counterSequencer) NextSequence(_ context.Context, key string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.values == nil {
		c.values = map[string]int64{}
	}
	c.values[key]++
	return c.values[key], nil
}

func TestNextIsSequentialPerPrefixAndDay(t *testing.T) {
	day := time.Date(2026, 3, 9, 22, 0, 0, 0, time.UTC)
	seq := &counterSequencer{}
	n := New(seq, func() time.Time { return day })

	first, err := n.Next(context.Background(), "rcp")
	require.NoError(t, err)
	second, err := n.Next(context.Background(), "RCP")
	require.NoError(t, err)
	bill, err := n.Next(context.Background(), "BILL")
	require.NoError(t, err)

	assert.Equal(t, "RCP-20260309-0001", first)
	assert.Equal(t, "RCP-20260309-0002", second)
	assert.Equal(t, "BILL-20260309-0001", bill)
}

func TestNextPropagatesSequencerError(t *testing.T) {
	n := New(&counterSequencer{err: errors.New("disk full")}, nil)
	_, err := n.Next(context.Background(), "RCP")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, err = n.Next(context.Background(), "  ")
	require.Error(t, err)
}

func TestNewLocalIDIsUniqueUUID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := NewLocalID()
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
