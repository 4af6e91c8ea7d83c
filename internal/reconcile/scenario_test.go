package reconcile

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/remote"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store/memory"
)

// A bill saved on T-1 while offline is pushed to the server by the next
// sweep and picks up the server's id and number.
func TestBillSavedOfflineIsSyncedBySweep(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.NewSeeded()

	svc := service.New(repo, service.Options{
		Device:             device,
		BusinessLocationID: "biz-1",
		StoreLocationID:    "store-1",
		Logger:             logger,
		Now:                func() time.Time { return fixedNow },
	})
	saved, err := svc.SaveBill(ctx, domain.BillDraft{
		User:        domain.UserRef{ID: "u-1", UserName: "kasir"},
		TableNumber: "T-1",
		Items: []domain.LineItem{{
			ItemID:    "a",
			Quantity:  decimal.NewFromInt(2),
			UnitPrice: decimal.NewFromInt(100),
		}},
	})
	require.NoError(t, err)
	require.True(t, saved.Success)

	rec := getRecord(t, repo, saved.LocalID)
	assert.Equal(t, domain.SyncPending, rec.SyncStatus)
	assert.True(t, rec.TotalAmount.Equal(decimal.NewFromInt(200)), "total %s", rec.TotalAmount)
	slot, err := repo.GetTableSlot(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, slot.Status)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/store-locations/store-1/bill" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"bill_id":"srv-1","bill_number":"B-001"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := remote.New(remote.Config{BaseURL: srv.URL, Timeout: time.Second, Device: device})
	require.NoError(t, err)

	result := newReconciler(t, repo, client, nil).SyncAll(ctx)
	assert.Equal(t, domain.SweepResult{Attempted: 1, Synced: 1, Pending: 0, Failed: 0}, result)
	assert.Equal(t, int32(1), hits.Load())

	rec = getRecord(t, repo, saved.LocalID)
	assert.Equal(t, domain.SyncSynced, rec.SyncStatus)
	assert.Equal(t, "srv-1", rec.ServerID)
	assert.Equal(t, "B-001", rec.ServerNumber)
	assert.Empty(t, rec.Error)
}
