package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "terminal.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return openTemp(t)
	})
}

func TestOpenAppliesAllMigrations(t *testing.T) {
	s := openTemp(t)
	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LatestVersion(), version)

	for _, table := range []string{"transactions", "table_slots", "bill_tags", "items", "users", "store_locations", "categories", "menu"} {
		assert.True(t, s.db.Migrator().HasTable(table), "missing table %s", table)
	}
	assert.True(t, s.db.Migrator().HasIndex(&recordRow{}, "idx_transactions_sync_status"))
	assert.True(t, s.db.Migrator().HasIndex(&recordRow{}, "idx_transactions_scope"))
}

func TestReopenKeepsRowsAndVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.db")
	ctx := context.Background()

	first, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	rec := storetest.NewSale(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	_, err = first.CreateRecord(ctx, rec)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	got, err := second.GetRecord(ctx, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, rec.Number, got.Number)

	var applied int64
	require.NoError(t, second.db.Model(&schemaVersionRow{}).Count(&applied).Error)
	assert.Equal(t, int64(len(migrations)), applied)
}

// A duplicate item id fails the insert after users and categories were
// already rewritten inside the transaction; the rollback must restore them.
func TestReplaceCatalogRollsBackPartialInsert(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	original := domain.CatalogSnapshot{
		Users:      []domain.CatalogUser{{ID: "u-1", UserName: "kasir"}},
		Categories: []domain.Category{{ID: "c-1", Name: "Drinks"}},
		Items:      []domain.CatalogItem{{ID: "a", Name: "Teh"}},
	}
	require.NoError(t, s.ReplaceCatalog(ctx, original))

	broken := domain.CatalogSnapshot{
		Users:      []domain.CatalogUser{{ID: "u-2", UserName: "baru"}},
		Categories: []domain.Category{{ID: "c-2", Name: "Food"}},
		Items:      []domain.CatalogItem{{ID: "b", Name: "Nasi"}, {ID: "b", Name: "Nasi lagi"}},
	}
	err := s.ReplaceCatalog(ctx, broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert items")

	after, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, after.Users, 1)
	assert.Equal(t, "u-1", after.Users[0].ID)
	require.Len(t, after.Categories, 1)
	assert.Equal(t, "c-1", after.Categories[0].ID)
	require.Len(t, after.Items, 1)
	assert.Equal(t, "a", after.Items[0].ID)
}
