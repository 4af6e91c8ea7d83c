package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsOrdered(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 4)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.version)
		assert.NotEmpty(t, m.sql)
	}
	assert.Equal(t, "0001_transactions", migrations[0].name)
}
