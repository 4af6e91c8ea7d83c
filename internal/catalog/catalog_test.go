package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/observability"
	"kasirinaja/terminal/internal/remote"
	"kasirinaja/terminal/internal/store/memory"
)

type fetchFunc func(ctx context.Context, bid string, sid string) (domain.CatalogSnapshot, error)

func (f fetchFunc) FetchCatalog(ctx context.Context, bid string, sid string) (domain.CatalogSnapshot, error) {
	return f(ctx, bid, sid)
}

func snapshot(items ...string) domain.CatalogSnapshot {
	snap := domain.CatalogSnapshot{
		Users:          []domain.CatalogUser{{ID: "u-1", UserName: "kasir"}},
		Categories:     []domain.Category{{ID: "c-1", Name: "Drinks"}},
		StoreLocations: []domain.StoreLocation{{ID: "store-1", BusinessLocationID: "biz-1", Name: "Main", ReceiptPrefix: "JKT"}},
	}
	for i, id := range items {
		snap.Items = append(snap.Items, domain.CatalogItem{ID: id, Name: id, CategoryID: "c-1", Price: decimal.NewFromInt(int64(1000 * (i + 1)))})
		snap.Menu = append(snap.Menu, domain.MenuEntry{ID: "m-" + id, ItemID: id, Position: i, Available: true})
	}
	return snap
}

func newSyncer(t *testing.T, repo *memory.Store, fetch fetchFunc, metrics *observability.SyncMetrics) *Syncer {
	t.Helper()
	return New(repo, fetch, Options{
		BusinessLocationID: "biz-1",
		StoreLocationID:    "store-1",
		Metrics:            metrics,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestPullReplacesMirror(t *testing.T) {
	repo := memory.New()
	var gotBID, gotSID string
	s := newSyncer(t, repo, func(_ context.Context, bid string, sid string) (domain.CatalogSnapshot, error) {
		gotBID, gotSID = bid, sid
		return snapshot("tea", "coffee"), nil
	}, nil)

	res := s.Pull(context.Background(), "", "")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "biz-1", gotBID)
	assert.Equal(t, "store-1", gotSID)
	assert.Equal(t, 2, res.Counts.Items)
	assert.Equal(t, 1, res.Counts.StoreLocations)

	mirror, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, mirror.Items, 2)

	loc, err := repo.GetStoreLocation(context.Background(), "store-1")
	require.NoError(t, err)
	assert.Equal(t, "JKT", loc.ReceiptPrefix)
}

func TestSharedPullSurvivesLeavingCaller(t *testing.T) {
	repo := memory.New()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	s := newSyncer(t, repo, func(ctx context.Context, _ string, _ string) (domain.CatalogSnapshot, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return domain.CatalogSnapshot{}, ctx.Err()
		}
		return snapshot("tea"), nil
	}, nil)

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	refreshDone := make(chan domain.CatalogResult, 1)
	go func() { refreshDone <- s.Pull(refreshCtx, "", "") }()
	<-started

	startupDone := make(chan domain.CatalogResult, 1)
	go func() { startupDone <- s.Pull(context.Background(), "", "") }()
	time.Sleep(20 * time.Millisecond)

	cancelRefresh()
	select {
	case res := <-refreshDone:
		assert.False(t, res.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(release)
	select {
	case res := <-startupDone:
		require.True(t, res.Success, res.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("pull did not finish")
	}
	mirror, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, mirror.Items, 1)
}

func TestPullReplacesWholesale(t *testing.T) {
	repo := memory.New()
	snaps := []domain.CatalogSnapshot{snapshot("tea", "coffee", "cake"), snapshot("juice")}
	s := newSyncer(t, repo, func(context.Context, string, string) (domain.CatalogSnapshot, error) {
		next := snaps[0]
		snaps = snaps[1:]
		return next, nil
	}, nil)

	require.True(t, s.Pull(context.Background(), "", "").Success)
	require.True(t, s.Pull(context.Background(), "", "").Success)

	mirror, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, mirror.Items, 1)
	assert.Equal(t, "juice", mirror.Items[0].ID)
}

func TestPullFailureKeepsPreviousMirror(t *testing.T) {
	tests := []struct {
		name    string
		fetch   fetchFunc
		message string
	}{
		{
			name: "transport",
			fetch: func(context.Context, string, string) (domain.CatalogSnapshot, error) {
				return domain.CatalogSnapshot{}, &remote.TransportError{Op: "fetch catalog", Err: errors.New("connection reset")}
			},
			message: "failed to fetch catalog",
		},
		{
			name: "server rejection",
			fetch: func(context.Context, string, string) (domain.CatalogSnapshot, error) {
				return domain.CatalogSnapshot{}, &remote.LogicalError{Status: 403, Message: "device revoked"}
			},
			message: "device revoked",
		},
		{
			name: "row without id",
			fetch: func(context.Context, string, string) (domain.CatalogSnapshot, error) {
				snap := snapshot("tea")
				snap.Items = append(snap.Items, domain.CatalogItem{Name: "ghost"})
				return snap, nil
			},
			message: "catalog rejected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.New()
			require.NoError(t, repo.ReplaceCatalog(context.Background(), snapshot("tea", "coffee")))

			registry := prometheus.NewRegistry()
			res := newSyncer(t, repo, tt.fetch, observability.NewSyncMetrics(registry)).Pull(context.Background(), "", "")
			assert.False(t, res.Success)
			assert.Contains(t, res.Message, tt.message)

			mirror, err := repo.LoadCatalog(context.Background())
			require.NoError(t, err)
			assert.Len(t, mirror.Items, 2)

			count, err := testutil.GatherAndCount(registry, "kasirinaja_catalog_pulls_total")
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}
