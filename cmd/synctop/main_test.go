package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
)

// fakeAPI serves the handful of local API routes the console uses.
type fakeAPI struct {
	tokenFetches atomic.Int32
	sweeps       atomic.Int32
	staleOnce    atomic.Bool
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenFetches.Add(1)
		token := "good"
		if n == 1 && f.staleOnce.Load() {
			token = "stale"
		}
		writeTestJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
	})
	mux.HandleFunc("GET /api/v1/sync/summary", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, domain.SyncCounts{Pending: 1234, Failed: 2, Synced: 98765})
	})
	mux.HandleFunc("GET /api/v1/records", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sync_status") != "failed" {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected filter"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{"records": []domain.TransactionRecord{
			{Kind: domain.KindSale, Number: "RCP-20260501-0007", Error: "stock exhausted"},
		}})
	})
	mux.HandleFunc("POST /api/v1/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-CSRF-Token") != "good" {
			writeTestJSON(w, http.StatusForbidden, map[string]string{"error": "invalid or missing csrf token"})
			return
		}
		f.sweeps.Add(1)
		writeTestJSON(w, http.StatusOK, domain.SweepResult{Attempted: 1500, Synced: 1498, Failed: 2})
	})
	mux.HandleFunc("POST /api/v1/catalog/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusBadGateway, domain.CatalogResult{Message: "failed to fetch catalog"})
	})
	return mux
}

func writeTestJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestModel(t *testing.T, api *fakeAPI) model {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return newModel(newAPIClient(srv.URL+"/"), time.Second)
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSnapshotIsRendered(t *testing.T) {
	m := newTestModel(t, &fakeAPI{})

	msg := m.fetch()()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok)
	require.NoError(t, snap.err)

	next, _ := m.Update(snap)
	view := next.(model).View()
	assert.Contains(t, view, "1.234")
	assert.Contains(t, view, "98.765")
	assert.Contains(t, view, "RCP-20260501-0007")
	assert.Contains(t, view, "stock exhausted")
}

func TestSyncKeyRunsSweepWithFreshToken(t *testing.T) {
	api := &fakeAPI{}
	api.staleOnce.Store(true)
	m := newTestModel(t, api)

	next, cmd := m.Update(keyPress("s"))
	require.NotNil(t, cmd)
	busy := next.(model)
	assert.True(t, busy.busy)

	// A second press while busy does nothing.
	_, again := busy.Update(keyPress("s"))
	assert.Nil(t, again)

	result, ok := cmd().(sweepMsg)
	require.True(t, ok)
	require.NoError(t, result.err)
	assert.Equal(t, int32(1), api.sweeps.Load())
	assert.Equal(t, int32(2), api.tokenFetches.Load())

	done, refresh := busy.Update(result)
	assert.NotNil(t, refresh)
	assert.False(t, done.(model).busy)
	assert.Contains(t, done.(model).status, "1.500 attempted")
}

func TestCatalogFailureShowsServerMessage(t *testing.T) {
	m := newTestModel(t, &fakeAPI{})

	next, cmd := m.Update(keyPress("c"))
	require.NotNil(t, cmd)
	msg, ok := cmd().(catalogMsg)
	require.True(t, ok)
	require.NoError(t, msg.err)

	done, _ := next.Update(msg)
	assert.Equal(t, "catalog: failed to fetch catalog", done.(model).status)
}

func TestUnreachableAPIIsReported(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	m := newModel(newAPIClient(url), time.Second)

	next, _ := m.Update(m.fetch()())
	assert.Contains(t, next.(model).View(), "local api unreachable")
}

func TestQuitKeys(t *testing.T) {
	m := newModel(newAPIClient("http://127.0.0.1:1"), time.Second)
	for _, key := range []tea.KeyMsg{keyPress("q"), {Type: tea.KeyCtrlC}} {
		_, cmd := m.Update(key)
		require.NotNil(t, cmd)
		assert.Equal(t, tea.Quit(), cmd())
	}
}
