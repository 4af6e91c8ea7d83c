package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/config"
	"kasirinaja/terminal/internal/inflight"
	"kasirinaja/terminal/internal/store/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		LogFormat:      "text",
		LogLevel:       "info",
		StoreDriver:    config.DriverMemory,
		RemoteBaseURL:  "http://127.0.0.1:1/api",
		RemoteTimeout:  time.Second,
		StorageTimeout: time.Second,
		InflightTTL:    time.Minute,
		DeviceID:       "dev-1",
		DeviceKey:      "secret",
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(t)
	cfg.LogFormat = "json"
	NewLogger(cfg, &buf).Info("hello", "local_id", "abc")
	assert.Contains(t, buf.String(), `"local_id":"abc"`)

	buf.Reset()
	cfg.LogLevel = "warn"
	NewLogger(cfg, &buf).Info("dropped")
	assert.Empty(t, buf.String())

	assert.Equal(t, slog.LevelInfo, parseLevel("loud"))
}

func TestBuildWithMemoryStore(t *testing.T) {
	rt, err := Build(context.Background(), testConfig(t), quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.IsType(t, &inflight.LocalTracker{}, rt.Tracker)
	assert.NotNil(t, rt.Reconciler)
	assert.NotNil(t, rt.Catalog)

	// Nothing queued: a sweep touches no network.
	result := rt.Reconciler.SyncAll(context.Background())
	assert.Zero(t, result.Attempted)
}

func TestBuildOpensSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = config.DriverSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "pos.db")

	rt, err := Build(context.Background(), cfg, quiet())
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, rt.Repo)
	require.NoError(t, rt.Close())
}

func TestBuildUsesRedisTrackerWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisAddr = mr.Addr()

	rt, err := Build(context.Background(), cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	assert.IsType(t, &inflight.RedisTracker{}, rt.Tracker)
}

func TestBuildFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisAddr = mr.Addr()
	mr.Close()

	rt, err := Build(context.Background(), cfg, quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	assert.IsType(t, &inflight.LocalTracker{}, rt.Tracker)
}

func TestBuildRejectsBadRemoteURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.RemoteBaseURL = "://nope"
	_, err := Build(context.Background(), cfg, quiet())
	assert.Error(t, err)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "mysql"
	_, _, err := OpenStore(context.Background(), cfg)
	assert.Error(t, err)
}
