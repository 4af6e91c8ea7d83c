// Package storetest holds the behavioral suite every store.Repository
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

// Factory returns an empty repository. Cleanup is registered on t.
type Factory func(t *testing.T) store.Repository

func Run(t *testing.T, newRepo Factory) {
	t.Run("CreateAndGetSale", func(t *testing.T) { testCreateAndGetSale(t, newRepo(t)) })
	t.Run("BillOccupiesTable", func(t *testing.T) { testBillOccupiesTable(t, newRepo(t)) })
	t.Run("RejectsUnknownTable", func(t *testing.T) { testRejectsUnknownTable(t, newRepo(t)) })
	t.Run("ExpiredWriteLeavesNothing", func(t *testing.T) { testExpiredWriteLeavesNothing(t, newRepo(t)) })
	t.Run("FailedInsertReleasesSlot", func(t *testing.T) { testFailedInsertReleasesSlot(t, newRepo(t)) })
	t.Run("VoidAndCloseReleaseTable", func(t *testing.T) { testVoidAndCloseReleaseTable(t, newRepo(t)) })
	t.Run("ConcurrentBillsSameTable", func(t *testing.T) { testConcurrentBillsSameTable(t, newRepo(t)) })
	t.Run("UpdateContent", func(t *testing.T) { testUpdateContent(t, newRepo(t)) })
	t.Run("SyncTransitions", func(t *testing.T) { testSyncTransitions(t, newRepo(t)) })
	t.Run("ListRecordsFilters", func(t *testing.T) { testListRecordsFilters(t, newRepo(t)) })
	t.Run("NextSequence", func(t *testing.T) { testNextSequence(t, newRepo(t)) })
	t.Run("RegenerateKeepsOccupied", func(t *testing.T) { testRegenerateKeepsOccupied(t, newRepo(t)) })
	t.Run("BillTags", func(t *testing.T) { testBillTags(t, newRepo(t)) })
	t.Run("CatalogReplaceIsAtomic", func(t *testing.T) { testCatalogReplaceIsAtomic(t, newRepo(t)) })
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func items(pairs ...int64) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.LineItem{
			ItemID:       fmt.Sprintf("item-%d", i/2+1),
			ItemName:     fmt.Sprintf("Item %d", i/2+1),
			CategoryName: "food",
			Quantity:     decimal.NewFromInt(pairs[i]),
			UnitPrice:    decimal.NewFromInt(pairs[i+1]),
		})
	}
	return out
}

func NewSale(at time.Time) domain.TransactionRecord {
	lines := items(2, 100)
	return domain.TransactionRecord{
		LocalID:            uuid.NewString(),
		Kind:               domain.KindSale,
		BusinessLocationID: "biz-1",
		StoreLocationID:    "store-1",
		User:               domain.UserRef{ID: "u-1", UserName: "kasir"},
		Items:              lines,
		TotalAmount:        domain.SaleTotal(lines),
		Number:             "RCP-20260501-0001",
		Prefix:             "RCP",
		SyncStatus:         domain.SyncPending,
		Sale: &domain.SaleDetails{
			Change:         decimal.Zero,
			PaymentDetails: []domain.PaymentDetail{{Method: "cash", Amount: decimal.NewFromInt(200)}},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func NewBill(at time.Time, table string) domain.TransactionRecord {
	lines := items(2, 100)
	return domain.TransactionRecord{
		LocalID:            uuid.NewString(),
		Kind:               domain.KindBill,
		BusinessLocationID: "biz-1",
		StoreLocationID:    "store-1",
		User:               domain.UserRef{ID: "u-1", UserName: "kasir", Email: "kasir@example.com"},
		Customer:           &domain.Customer{Name: "Budi"},
		Items:              lines,
		TotalAmount:        domain.BillTotal(lines),
		Number:             "BILL-20260501-0001",
		Prefix:             "BILL",
		SyncStatus:         domain.SyncPending,
		Bill: &domain.BillDetails{
			TableNumber: table,
			Tag:         &domain.BillTagRef{TagName: "VIP", TagColor: "#ff0000"},
			Status:      domain.BillActive,
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func seedTables(t *testing.T, repo store.Repository, count int) {
	t.Helper()
	_, err := repo.RegenerateTableSlots(context.Background(), count, "T")
	require.NoError(t, err)
}

func slotStatus(t *testing.T, repo store.Repository, table string) domain.TableStatus {
	t.Helper()
	slot, err := repo.GetTableSlot(context.Background(), table)
	require.NoError(t, err)
	return slot.Status
}

func testCreateAndGetSale(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	rec := NewSale(base)

	created, err := repo.CreateRecord(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, rec.LocalID, created.LocalID)

	got, err := repo.GetRecord(ctx, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindSale, got.Kind)
	assert.Equal(t, domain.SyncPending, got.SyncStatus)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(200)))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "item-1", got.Items[0].ItemID)
	require.NotNil(t, got.Sale)
	require.Len(t, got.Sale.PaymentDetails, 1)
	assert.Equal(t, "cash", got.Sale.PaymentDetails[0].Method)
	assert.Nil(t, got.Bill)

	_, err = repo.CreateRecord(ctx, rec)
	assert.ErrorIs(t, err, store.ErrInvalidRecord)

	_, err = repo.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	bad := NewSale(base)
	bad.Items = nil
	_, err = repo.CreateRecord(ctx, bad)
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
}

func testBillOccupiesTable(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedTables(t, repo, 3)

	bill := NewBill(base, "T-1")
	_, err := repo.CreateRecord(ctx, bill)
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, slotStatus(t, repo, "T-1"))

	got, err := repo.GetRecord(ctx, bill.LocalID)
	require.NoError(t, err)
	require.NotNil(t, got.Bill)
	assert.Equal(t, "T-1", got.Bill.TableNumber)
	assert.Equal(t, domain.BillActive, got.Bill.Status)
	require.NotNil(t, got.Bill.Tag)
	assert.Equal(t, "VIP", got.Bill.Tag.TagName)
	require.NotNil(t, got.Customer)
	assert.Equal(t, "Budi", got.Customer.Name)

	second := NewBill(base.Add(time.Minute), "T-1")
	_, err = repo.CreateRecord(ctx, second)
	assert.ErrorIs(t, err, store.ErrTableOccupied)
	_, err = repo.GetRecord(ctx, second.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	takeaway := NewBill(base, "")
	_, err = repo.CreateRecord(ctx, takeaway)
	require.NoError(t, err)
}

func testRejectsUnknownTable(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	bill := NewBill(base, "T-99")
	_, err := repo.CreateRecord(ctx, bill)
	assert.ErrorIs(t, err, store.ErrTableNotFound)

	_, err = repo.GetRecord(ctx, bill.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testExpiredWriteLeavesNothing(t *testing.T, repo store.Repository) {
	seedTables(t, repo, 1)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	bill := NewBill(base, "T-1")
	_, err := repo.CreateRecord(ctx, bill)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorageTimeout)

	_, err = repo.GetRecord(context.Background(), bill.LocalID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, domain.TableAvailable, slotStatus(t, repo, "T-1"))

	counts, err := repo.CountBySyncStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Pending)
}

// A bill whose insert fails after its slot was claimed leaves the slot as
// it was.
func testFailedInsertReleasesSlot(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedTables(t, repo, 2)

	sale := NewSale(base)
	_, err := repo.CreateRecord(ctx, sale)
	require.NoError(t, err)

	bill := NewBill(base.Add(time.Minute), "T-2")
	bill.LocalID = sale.LocalID
	_, err = repo.CreateRecord(ctx, bill)
	require.ErrorIs(t, err, store.ErrInvalidRecord)

	assert.Equal(t, domain.TableAvailable, slotStatus(t, repo, "T-2"))
	got, err := repo.GetRecord(ctx, sale.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindSale, got.Kind)
	assert.Nil(t, got.Bill)

	counts, err := repo.CountBySyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Pending)
}

func testVoidAndCloseReleaseTable(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedTables(t, repo, 2)

	first := NewBill(base, "T-1")
	_, err := repo.CreateRecord(ctx, first)
	require.NoError(t, err)

	voided, err := repo.SetBillStatus(ctx, first.LocalID, domain.BillVoided, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.BillVoided, voided.Bill.Status)
	assert.Equal(t, domain.SyncPending, voided.SyncStatus)
	assert.True(t, voided.UpdatedAt.Equal(base.Add(time.Minute)))
	assert.Equal(t, domain.TableAvailable, slotStatus(t, repo, "T-1"))

	_, err = repo.SetBillStatus(ctx, first.LocalID, domain.BillClosed, base.Add(2*time.Minute))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	second := NewBill(base.Add(time.Minute), "T-1")
	_, err = repo.CreateRecord(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, slotStatus(t, repo, "T-1"))

	closed, err := repo.SetBillStatus(ctx, second.LocalID, domain.BillClosed, base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.BillClosed, closed.Bill.Status)
	assert.Equal(t, domain.TableAvailable, slotStatus(t, repo, "T-1"))

	_, err = repo.SetBillStatus(ctx, second.LocalID, domain.BillActive, base)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	sale := NewSale(base)
	_, err = repo.CreateRecord(ctx, sale)
	require.NoError(t, err)
	_, err = repo.SetBillStatus(ctx, sale.LocalID, domain.BillVoided, base)
	assert.ErrorIs(t, err, store.ErrInvalidRecord)

	_, err = repo.SetBillStatus(ctx, "missing", domain.BillVoided, base)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentBillsSameTable(t *testing.T, repo store.Repository) {
	seedTables(t, repo, 1)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CreateRecord(context.Background(), NewBill(base.Add(time.Duration(i)*time.Second), "T-1"))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrTableOccupied)
	}
	assert.Equal(t, 1, succeeded)

	active, err := repo.ListRecords(context.Background(), domain.RecordFilter{Kind: domain.KindBill})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func testUpdateContent(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	rec := NewSale(base)
	_, err := repo.CreateRecord(ctx, rec)
	require.NoError(t, err)

	newItems := items(1, 50, 3, 10)
	notes := "extra spicy"
	updated, err := repo.UpdateRecordContent(ctx, rec.LocalID, newItems, domain.SaleTotal(newItems), &notes, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, updated.Items, 2)
	assert.True(t, updated.TotalAmount.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, "extra spicy", updated.Notes)
	assert.True(t, updated.UpdatedAt.Equal(base.Add(time.Hour)))
	assert.Equal(t, domain.SyncPending, updated.SyncStatus)

	got, err := repo.GetRecord(ctx, rec.LocalID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)

	_, err = repo.UpdateRecordContent(ctx, rec.LocalID, nil, decimal.Zero, nil, base)
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
	_, err = repo.UpdateRecordContent(ctx, "missing", newItems, decimal.Zero, nil, base)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSyncTransitions(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	rec := NewSale(base)
	_, err := repo.CreateRecord(ctx, rec)
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(ctx, rec.LocalID, "connection refused", base.Add(time.Minute)))
	got, err := repo.GetRecord(ctx, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, got.SyncStatus)
	assert.Equal(t, "connection refused", got.Error)

	counts, err := repo.CountBySyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncCounts{Failed: 1}, counts)

	require.NoError(t, repo.MarkSynced(ctx, rec.LocalID, "srv-9", "R-0009", base.Add(2*time.Minute)))
	got, err = repo.GetRecord(ctx, rec.LocalID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, got.SyncStatus)
	assert.Equal(t, "srv-9", got.ServerID)
	assert.Equal(t, "R-0009", got.ServerNumber)
	assert.Empty(t, got.Error)
	assert.True(t, got.UpdatedAt.Equal(base.Add(2*time.Minute)))

	assert.ErrorIs(t, repo.MarkFailed(ctx, rec.LocalID, "late failure", base), store.ErrInvalidTransition)
	assert.ErrorIs(t, repo.MarkSynced(ctx, "missing", "x", "y", base), store.ErrNotFound)
	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", "x", base), store.ErrNotFound)

	counts, err = repo.CountBySyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncCounts{Synced: 1}, counts)
}

func testListRecordsFilters(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedTables(t, repo, 2)

	sale1 := NewSale(base)
	sale2 := NewSale(base.Add(time.Minute))
	sale2.StoreLocationID = "store-2"
	bill := NewBill(base.Add(2*time.Minute), "T-2")
	for _, rec := range []domain.TransactionRecord{sale2, bill, sale1} {
		_, err := repo.CreateRecord(ctx, rec)
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkFailed(ctx, sale2.LocalID, "boom", base.Add(3*time.Minute)))
	require.NoError(t, repo.MarkSynced(ctx, bill.LocalID, "srv", "B-1", base.Add(3*time.Minute)))

	all, err := repo.ListRecords(ctx, domain.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, sale1.LocalID, all[0].LocalID)
	assert.Equal(t, bill.LocalID, all[2].LocalID)

	unsynced, err := repo.ListRecords(ctx, domain.RecordFilter{Statuses: []domain.SyncStatus{domain.SyncPending, domain.SyncFailed}})
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, sale1.LocalID, unsynced[0].LocalID)
	assert.Equal(t, sale2.LocalID, unsynced[1].LocalID)

	bills, err := repo.ListRecords(ctx, domain.RecordFilter{Kind: domain.KindBill})
	require.NoError(t, err)
	require.Len(t, bills, 1)

	scoped, err := repo.ListRecords(ctx, domain.RecordFilter{BusinessLocationID: "biz-1", StoreLocationID: "store-2"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, sale2.LocalID, scoped[0].LocalID)

	limited, err := repo.ListRecords(ctx, domain.RecordFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testNextSequence(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := repo.NextSequence(ctx, "RCP|20260501")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := repo.NextSequence(ctx, "BILL|20260501")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func testRegenerateKeepsOccupied(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedTables(t, repo, 5)

	for _, table := range []string{"T-2", "T-4"} {
		_, err := repo.CreateRecord(ctx, NewBill(base, table))
		require.NoError(t, err)
	}
	before := map[string]string{}
	for _, table := range []string{"T-2", "T-4"} {
		slot, err := repo.GetTableSlot(ctx, table)
		require.NoError(t, err)
		before[table] = slot.ID
	}

	_, err := repo.RegenerateTableSlots(ctx, 1, "T")
	var conflict *store.ResourceConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.RemovableCount)

	slots, err := repo.ListTableSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 5)

	res, err := repo.RegenerateTableSlots(ctx, 6, "T")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 2, res.Occupied)
	assert.Equal(t, 6, res.Total)

	slots, err = repo.ListTableSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 6)

	numbers := map[string]domain.TableStatus{}
	for _, slot := range slots {
		_, dup := numbers[slot.TableNumber]
		require.False(t, dup, "duplicate table number %s", slot.TableNumber)
		numbers[slot.TableNumber] = slot.Status
	}
	assert.Equal(t, map[string]domain.TableStatus{
		"T-1": domain.TableAvailable,
		"T-2": domain.TableOccupied,
		"T-3": domain.TableAvailable,
		"T-4": domain.TableOccupied,
		"T-5": domain.TableAvailable,
		"T-6": domain.TableAvailable,
	}, numbers)

	for table, id := range before {
		slot, err := repo.GetTableSlot(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, id, slot.ID)
		assert.Equal(t, domain.TableOccupied, slot.Status)
	}

	res, err = repo.RegenerateTableSlots(ctx, 2, "T")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	slots, err = repo.ListTableSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func testBillTags(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	tag := domain.BillTag{ID: uuid.NewString(), TagName: "VIP", TagColor: "#f00", CreatedAt: base}
	created, err := repo.CreateBillTag(ctx, tag)
	require.NoError(t, err)
	assert.Equal(t, "VIP", created.TagName)

	_, err = repo.CreateBillTag(ctx, domain.BillTag{ID: uuid.NewString(), TagName: "vip", CreatedAt: base})
	assert.ErrorIs(t, err, store.ErrDuplicateTag)

	_, err = repo.CreateBillTag(ctx, domain.BillTag{ID: uuid.NewString(), TagName: "Delivery", CreatedAt: base})
	require.NoError(t, err)

	tags, err := repo.ListBillTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "Delivery", tags[0].TagName)

	require.NoError(t, repo.DeleteBillTag(ctx, tag.ID))
	assert.ErrorIs(t, repo.DeleteBillTag(ctx, tag.ID), store.ErrNotFound)

	_, err = repo.CreateBillTag(ctx, domain.BillTag{ID: uuid.NewString(), TagName: "VIP", CreatedAt: base})
	require.NoError(t, err)
}

func snapshot(itemIDs ...string) domain.CatalogSnapshot {
	snap := domain.CatalogSnapshot{
		Users:          []domain.CatalogUser{{ID: "u-1", UserName: "kasir", Role: "cashier"}},
		Categories:     []domain.Category{{ID: "c-1", Name: "Drinks"}},
		StoreLocations: []domain.StoreLocation{{ID: "store-1", BusinessLocationID: "biz-1", Name: "Main", ReceiptPrefix: "MN", BillPrefix: "MB"}},
		Menu:           []domain.MenuEntry{{ID: "m-1", ItemID: "a", CategoryID: "c-1", Position: 1, Available: true}},
	}
	for _, id := range itemIDs {
		snap.Items = append(snap.Items, domain.CatalogItem{ID: id, Name: "Item " + id, CategoryID: "c-1", Price: decimal.NewFromInt(100)})
	}
	return snap
}

func testCatalogReplaceIsAtomic(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.ReplaceCatalog(ctx, snapshot("a", "b")))

	loaded, err := repo.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.CatalogCounts{Users: 1, Items: 2, StoreLocations: 1, Categories: 1, Menu: 1}, loaded.Counts())

	loc, err := repo.GetStoreLocation(ctx, "store-1")
	require.NoError(t, err)
	assert.Equal(t, "MN", loc.ReceiptPrefix)

	bad := snapshot("x", "y", "x")
	bad.Categories = []domain.Category{{ID: "c-9", Name: "New"}}
	err = repo.ReplaceCatalog(ctx, bad)
	require.Error(t, err)

	after, err := repo.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, loaded.Counts(), after.Counts())
	require.Len(t, after.Categories, 1)
	assert.Equal(t, "c-1", after.Categories[0].ID)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{after.Items[0].ID, after.Items[1].ID})

	require.NoError(t, repo.ReplaceCatalog(ctx, snapshot("z")))
	replaced, err := repo.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, replaced.Items, 1)
	assert.Equal(t, "z", replaced.Items[0].ID)

	_, err = repo.GetStoreLocation(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
