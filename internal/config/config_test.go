package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unset clears keys for the test; t.Setenv restores them afterwards.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	unset(t, "PORT", "STORE_DRIVER", "SQLITE_PATH", "LOG_FORMAT", "REDIS_ADDR",
		"REMOTE_TIMEOUT", "STORAGE_TIMEOUT", "REGISTRATION_TIMEOUT", "SYNC_INTERVAL", "INFLIGHT_TTL",
		"RECEIPT_PREFIX", "BILL_PREFIX", "PULL_CATALOG_ON_START", "DEVICE_ID", "DEVICE_KEY")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 15*time.Second, cfg.RemoteTimeout)
	assert.Equal(t, 5*time.Second, cfg.StorageTimeout)
	assert.Equal(t, 2*time.Second, cfg.RegistrationTimeout)
	assert.Equal(t, "RCP", cfg.ReceiptPrefix)
	assert.Equal(t, "BILL", cfg.BillPrefix)
	assert.True(t, cfg.PullCatalogOnStart)
	assert.False(t, cfg.RedisEnabled())
	assert.Error(t, cfg.Device().Validate(), "no device credentials when unset")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REMOTE_TIMEOUT", "3s")
	t.Setenv("DEVICE_ID", " dev-7 ")
	t.Setenv("DEVICE_KEY", "k")
	t.Setenv("DEVICE_NAME", "Bar")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 3*time.Second, cfg.RemoteTimeout)

	device := cfg.Device()
	assert.Equal(t, "dev-7", device.DeviceID)
	assert.Equal(t, "Bar", device.DeviceName)
	assert.NoError(t, device.Validate())
}

func TestLoadAcceptsInflightTTLAboveWorstCase(t *testing.T) {
	t.Setenv("INFLIGHT_TTL", "26s")
	t.Setenv("REMOTE_TIMEOUT", "15s")
	t.Setenv("STORAGE_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 26*time.Second, cfg.InflightTTL)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mysql"}, "unknown STORE_DRIVER"},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": ""}, "DATABASE_URL is required"},
		{"zero timeout", map[string]string{"STORAGE_TIMEOUT": "0s"}, "STORAGE_TIMEOUT must be positive"},
		{"log format", map[string]string{"LOG_FORMAT": "xml"}, "unknown LOG_FORMAT"},
		{"inflight ttl below remote timeout", map[string]string{"INFLIGHT_TTL": "10s", "REMOTE_TIMEOUT": "15s", "STORAGE_TIMEOUT": "5s"}, "INFLIGHT_TTL (10s) must exceed"},
		{"inflight ttl equal to worst case", map[string]string{"INFLIGHT_TTL": "25s", "REMOTE_TIMEOUT": "15s", "STORAGE_TIMEOUT": "5s"}, "must exceed REMOTE_TIMEOUT plus twice STORAGE_TIMEOUT (25s)"},
		{"unparsable duration", map[string]string{"SYNC_INTERVAL": "soon"}, "failed to process config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
