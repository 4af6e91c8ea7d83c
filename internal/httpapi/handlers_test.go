package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store/memory"
)

type fakeSyncer struct {
	oneCalls []string
	sweep    domain.SweepResult
}

func (f *fakeSyncer) SyncOne(_ context.Context, kind domain.RecordKind, localID string) domain.SyncOutcome {
	f.oneCalls = append(f.oneCalls, string(kind)+"/"+localID)
	return domain.SyncOutcome{LocalID: localID, Kind: kind, Success: true, Message: "sale synced", ServerID: "srv-1"}
}

func (f *fakeSyncer) SyncAll(context.Context) domain.SweepResult {
	return f.sweep
}

type fakeCatalog struct {
	result domain.CatalogResult
	mirror domain.CatalogSnapshot
}

func (f *fakeCatalog) Pull(context.Context, string, string) domain.CatalogResult { return f.result }

func (f *fakeCatalog) Load(context.Context) (domain.CatalogSnapshot, error) { return f.mirror, nil }

type testEnv struct {
	api     *API
	handler http.Handler
	repo    *memory.Store
	syncer  *fakeSyncer
	catalog *fakeCatalog
	csrf    string
}

// newTestEnv builds the API over a seeded in-memory store and a real
// recorder so handler tests exercise the full request path.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := memory.NewSeeded()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(repo, service.Options{
		Device:             domain.DeviceContext{DeviceID: "dev-1", DeviceKey: "secret"},
		BusinessLocationID: "biz-1",
		StoreLocationID:    "store-1",
		Logger:             logger,
		Now:                func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) },
	})
	syncer := &fakeSyncer{}
	catalog := &fakeCatalog{}
	api, err := New(svc, syncer, catalog, Options{AllowedOrigin: "http://127.0.0.1:3000", Logger: logger})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	env := &testEnv{api: api, handler: api.Handler(), repo: repo, syncer: syncer, catalog: catalog}
	env.csrf = fetchCSRFToken(t, env.handler)
	return env
}

func (e *testEnv) do(t *testing.T, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", e.csrf)
	res := httptest.NewRecorder()
	e.handler.ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, res.Code)
	}
	return out
}

func billDraft(table string) map[string]any {
	return map[string]any{
		"user":         map[string]any{"id": "u-1", "user_name": "kasir"},
		"table_number": table,
		"items": []map[string]any{
			{"item_id": "tea", "item_name": "Tea", "quantity": "2", "unit_price": "100"},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	res := env.do(t, http.MethodGet, "/healthz", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody[map[string]any](t, res)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestSaveBillThenListAndSummary(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/api/v1/bills", billDraft("T-1"))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	saved := decodeBody[domain.SaveResult](t, res)
	if !saved.Success || saved.Number != "BILL-20260501-0001" {
		t.Fatalf("unexpected save result %+v", saved)
	}

	res = env.do(t, http.MethodGet, "/api/v1/records?kind=bill&sync_status=pending,failed", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	list := decodeBody[struct {
		Records []domain.TransactionRecord `json:"records"`
	}](t, res)
	if len(list.Records) != 1 || list.Records[0].LocalID != saved.LocalID {
		t.Fatalf("expected the saved bill, got %+v", list.Records)
	}

	res = env.do(t, http.MethodGet, "/api/v1/sync/summary", nil)
	counts := decodeBody[domain.SyncCounts](t, res)
	if counts.Pending != 1 {
		t.Fatalf("expected 1 pending, got %+v", counts)
	}
}

func TestSaveBillOnOccupiedTableConflicts(t *testing.T) {
	env := newTestEnv(t)
	if res := env.do(t, http.MethodPost, "/api/v1/bills", billDraft("T-2")); res.Code != http.StatusCreated {
		t.Fatalf("first bill: got %d", res.Code)
	}

	res := env.do(t, http.MethodPost, "/api/v1/bills", billDraft("T-2"))
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	result := decodeBody[domain.SaveResult](t, res)
	if result.Success || result.Message != "table T-2 is already occupied" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSaveSaleRejectsInvalidDraft(t *testing.T) {
	env := newTestEnv(t)
	res := env.do(t, http.MethodPost, "/api/v1/sales", map[string]any{
		"user":  map[string]any{"id": "u-1", "user_name": "kasir"},
		"items": []map[string]any{},
	})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestVoidBillFreesTable(t *testing.T) {
	env := newTestEnv(t)
	saved := decodeBody[domain.SaveResult](t, env.do(t, http.MethodPost, "/api/v1/bills", billDraft("T-3")))

	res := env.do(t, http.MethodPost, "/api/v1/bills/"+saved.LocalID+"/void", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	if res := env.do(t, http.MethodPost, "/api/v1/bills/"+saved.LocalID+"/void", nil); res.Code != http.StatusConflict {
		t.Fatalf("second void: expected 409, got %d", res.Code)
	}
	if res := env.do(t, http.MethodPost, "/api/v1/bills/missing/close", nil); res.Code != http.StatusNotFound {
		t.Fatalf("unknown bill: expected 404, got %d", res.Code)
	}

	slots := decodeBody[struct {
		TableSlots []domain.TableSlot `json:"table_slots"`
	}](t, env.do(t, http.MethodGet, "/api/v1/table-slots", nil))
	for _, slot := range slots.TableSlots {
		if slot.TableNumber == "T-3" && slot.Status != domain.TableAvailable {
			t.Fatalf("expected T-3 available after void, got %s", slot.Status)
		}
	}
}

func TestUpdateRecordRecomputesTotal(t *testing.T) {
	env := newTestEnv(t)
	saved := decodeBody[domain.SaveResult](t, env.do(t, http.MethodPost, "/api/v1/bills", billDraft("")))

	res := env.do(t, http.MethodPatch, "/api/v1/records/bill/"+saved.LocalID, map[string]any{
		"items": []map[string]any{
			{"item_id": "tea", "item_name": "Tea", "quantity": "3", "unit_price": "100"},
		},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	rec := decodeBody[domain.TransactionRecord](t, env.do(t, http.MethodGet, "/api/v1/records/"+saved.LocalID, nil))
	if rec.TotalAmount.String() != "300" {
		t.Fatalf("expected total 300, got %s", rec.TotalAmount)
	}
}

func TestRegenerateTableSlotsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/bills", billDraft("T-8"))

	res := env.do(t, http.MethodPut, "/api/v1/table-slots", map[string]any{"count": 0, "prefix": "T"})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", res.Code, res.Body.String())
	}
	result := decodeBody[domain.RegenerateResult](t, res)
	if result.Occupied != 1 || result.RemovableCount != 7 {
		t.Fatalf("unexpected conflict result %+v", result)
	}

	res = env.do(t, http.MethodPut, "/api/v1/table-slots", map[string]any{"count": 4, "prefix": "T"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestRegenerateTableSlotsRejectsHugeCount(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPut, "/api/v1/table-slots", map[string]any{"count": 2000000000, "prefix": "T"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", res.Code, res.Body.String())
	}
	result := decodeBody[domain.RegenerateResult](t, res)
	if result.Success || result.Message == "" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestBillTagLifecycle(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(t, http.MethodPost, "/api/v1/bill-tags", map[string]string{"tag_name": "VIP", "tag_color": "#ff0000"})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	tag := decodeBody[domain.BillTag](t, res)

	if res := env.do(t, http.MethodPost, "/api/v1/bill-tags", map[string]string{"tag_name": "VIP"}); res.Code != http.StatusConflict {
		t.Fatalf("duplicate tag: expected 409, got %d", res.Code)
	}
	if res := env.do(t, http.MethodDelete, "/api/v1/bill-tags/"+tag.ID, nil); res.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", res.Code)
	}
	tags := decodeBody[struct {
		BillTags []domain.BillTag `json:"bill_tags"`
	}](t, env.do(t, http.MethodGet, "/api/v1/bill-tags", nil))
	if len(tags.BillTags) != 0 {
		t.Fatalf("expected no tags, got %+v", tags.BillTags)
	}
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.syncer.sweep = domain.SweepResult{Attempted: 3, Synced: 2, Failed: 1}

	sweep := decodeBody[domain.SweepResult](t, env.do(t, http.MethodPost, "/api/v1/sync", nil))
	if sweep != env.syncer.sweep {
		t.Fatalf("unexpected sweep %+v", sweep)
	}

	out := decodeBody[domain.SyncOutcome](t, env.do(t, http.MethodPost, "/api/v1/sync/sale/abc", nil))
	if !out.Success || out.ServerID != "srv-1" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(env.syncer.oneCalls) != 1 || env.syncer.oneCalls[0] != "sale/abc" {
		t.Fatalf("unexpected calls %v", env.syncer.oneCalls)
	}

	if res := env.do(t, http.MethodPost, "/api/v1/sync/receipt/abc", nil); res.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: expected 400, got %d", res.Code)
	}
}

func TestCatalogRefresh(t *testing.T) {
	env := newTestEnv(t)

	env.catalog.result = domain.CatalogResult{Success: true, Message: "catalog updated", Counts: domain.CatalogCounts{Items: 4}}
	res := env.do(t, http.MethodPost, "/api/v1/catalog/refresh", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	env.catalog.result = domain.CatalogResult{Message: "failed to fetch catalog"}
	res = env.do(t, http.MethodPost, "/api/v1/catalog/refresh", nil)
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
	result := decodeBody[domain.CatalogResult](t, res)
	if result.Message != "failed to fetch catalog" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	env.catalog.mirror = domain.CatalogSnapshot{Items: []domain.CatalogItem{{ID: "tea", Name: "Tea"}}}
	mirror := decodeBody[domain.CatalogSnapshot](t, env.do(t, http.MethodGet, "/api/v1/catalog", nil))
	if len(mirror.Items) != 1 {
		t.Fatalf("expected mirrored item, got %+v", mirror.Items)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}
