package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return New()
	})
}

func TestNewSeededHasAvailableTables(t *testing.T) {
	s := NewSeeded()
	slots, err := s.ListTableSlots(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 8)
	assert.Equal(t, "T-1", slots[0].TableNumber)
	assert.Equal(t, "T-8", slots[7].TableNumber)
}

func TestLockWaitHonorsDeadline(t *testing.T) {
	s := New()
	unlock, err := s.lock(context.Background(), true, tableTransactions)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.CreateRecord(ctx, storetest.NewSale(time.Now()))
	assert.ErrorIs(t, err, store.ErrStorageTimeout)
}

func TestDisjointTablesDoNotBlock(t *testing.T) {
	s := NewSeeded()
	unlock, err := s.lock(context.Background(), true, tableTransactions)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = s.NextSequence(ctx, "RCP|20260501")
	require.NoError(t, err)
	_, err = s.ListTableSlots(ctx)
	require.NoError(t, err)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	rec := storetest.NewSale(time.Now())
	_, err := s.CreateRecord(context.Background(), rec)
	require.NoError(t, err)

	got, err := s.GetRecord(context.Background(), rec.LocalID)
	require.NoError(t, err)
	got.Items[0].ItemID = "mutated"
	got.Sale.PaymentDetails[0].Method = "mutated"

	again, err := s.GetRecord(context.Background(), rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, "item-1", again.Items[0].ItemID)
	assert.Equal(t, "cash", again.Sale.PaymentDetails[0].Method)
}
