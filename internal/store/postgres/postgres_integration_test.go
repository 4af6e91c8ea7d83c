package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/store/storetest"
)

func openIntegration(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("KASIRINAJA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRINAJA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.db.ExecContext(ctx, `
		TRUNCATE transactions, table_slots, sequences, bill_tags,
			users, categories, items, store_locations, menu
	`)
	require.NoError(t, err)
	return s
}

func TestRepositoryContractIntegration(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return openIntegration(t)
	})
}

func TestMigrateIsIdempotentIntegration(t *testing.T) {
	s := openIntegration(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)

	migrations, err := loadMigrations()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)
}
