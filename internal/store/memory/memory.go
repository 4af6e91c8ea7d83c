package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

const (
	tableTransactions = "transactions"
	tableSlots        = "table_slots"
	tableTags         = "bill_tags"
	tableCatalog      = "catalog"
	tableSequences    = "sequences"

	// Write locks take every reader slot of a table.
	maxReaders = 1 << 16
)

// Store keeps every table in maps guarded by its own weighted semaphore.
// Operations lock the tables they touch in sorted order, so transactions on
// disjoint tables run independently and overlapping ones serialize. Lock
// waits honor the caller's context.
type Store struct {
	locks map[string]*semaphore.Weighted

	records      map[string]*domain.TransactionRecord
	bySyncStatus map[domain.SyncStatus]map[string]struct{}

	slotsByID    map[string]domain.TableSlot
	slotByNumber map[string]string

	tagsByID map[string]domain.BillTag

	sequences map[string]int64

	catalog        domain.CatalogSnapshot
	storeLocations map[string]domain.StoreLocation
}

func New() *Store {
	locks := make(map[string]*semaphore.Weighted)
	for _, name := range []string{tableTransactions, tableSlots, tableTags, tableCatalog, tableSequences} {
		locks[name] = semaphore.NewWeighted(maxReaders)
	}
	return &Store{
		locks:   locks,
		records: make(map[string]*domain.TransactionRecord),
		bySyncStatus: map[domain.SyncStatus]map[string]struct{}{
			domain.SyncPending: {},
			domain.SyncSynced:  {},
			domain.SyncFailed:  {},
		},
		slotsByID:      make(map[string]domain.TableSlot),
		slotByNumber:   make(map[string]string),
		tagsByID:       make(map[string]domain.BillTag),
		sequences:      make(map[string]int64),
		storeLocations: make(map[string]domain.StoreLocation),
	}
}

// NewSeeded returns a store with eight available tables T-1..T-8 for
// development runs without a database file.
func NewSeeded() *Store {
	s := New()
	for i := 1; i <= 8; i++ {
		slot := domain.TableSlot{
			ID:          uuid.NewString(),
			TableNumber: fmt.Sprintf("T-%d", i),
			Status:      domain.TableAvailable,
		}
		s.slotsByID[slot.ID] = slot
		s.slotByNumber[slot.TableNumber] = slot.ID
	}
	return s
}

func (s *Store) lock(ctx context.Context, write bool, tables ...string) (func(), error) {
	names := slices.Clone(tables)
	slices.Sort(names)
	names = slices.Compact(names)

	weight := int64(1)
	if write {
		weight = maxReaders
	}

	acquired := make([]*semaphore.Weighted, 0, len(names))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Release(weight)
		}
	}
	for _, name := range names {
		sem, ok := s.locks[name]
		if !ok {
			release()
			return nil, fmt.Errorf("unknown table %s", name)
		}
		if err := sem.Acquire(ctx, weight); err != nil {
			release()
			return nil, store.MapContextErr(err)
		}
		acquired = append(acquired, sem)
	}
	return release, nil
}

// commitCheck is the last point a write may be abandoned. Nothing is
// mutated before it.
func commitCheck(ctx context.Context) error {
	return store.MapContextErr(ctx.Err())
}

func (s *Store) CreateRecord(ctx context.Context, rec domain.TransactionRecord) (*domain.TransactionRecord, error) {
	if err := store.ValidateNewRecord(rec); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, true, tableTransactions, tableSlots)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, exists := s.records[rec.LocalID]; exists {
		return nil, fmt.Errorf("%w: duplicate local id %s", store.ErrInvalidRecord, rec.LocalID)
	}

	var occupy *domain.TableSlot
	if table := rec.TableNumber(); table != "" {
		slotID, ok := s.slotByNumber[table]
		if !ok {
			return nil, store.ErrTableNotFound
		}
		slot := s.slotsByID[slotID]
		if slot.Status == domain.TableOccupied {
			return nil, store.ErrTableOccupied
		}
		slot.Status = domain.TableOccupied
		occupy = &slot
	}

	if err := commitCheck(ctx); err != nil {
		return nil, err
	}

	stored := cloneRecord(&rec)
	s.records[rec.LocalID] = stored
	s.bySyncStatus[stored.SyncStatus][stored.LocalID] = struct{}{}
	if occupy != nil {
		s.slotsByID[occupy.ID] = *occupy
	}

	return cloneRecord(stored), nil
}

func (s *Store) GetRecord(ctx context.Context, localID string) (*domain.TransactionRecord, error) {
	unlock, err := s.lock(ctx, false, tableTransactions)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, ok := s.records[localID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.TransactionRecord, error) {
	unlock, err := s.lock(ctx, false, tableTransactions)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var candidates []*domain.TransactionRecord
	if len(filter.Statuses) > 0 {
		for _, status := range filter.Statuses {
			for id := range s.bySyncStatus[status] {
				candidates = append(candidates, s.records[id])
			}
		}
	} else {
		for _, rec := range s.records {
			candidates = append(candidates, rec)
		}
	}

	out := make([]domain.TransactionRecord, 0, len(candidates))
	for _, rec := range candidates {
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		if filter.BusinessLocationID != "" && rec.BusinessLocationID != filter.BusinessLocationID {
			continue
		}
		if filter.StoreLocationID != "" && rec.StoreLocationID != filter.StoreLocationID {
			continue
		}
		out = append(out, *cloneRecord(rec))
	}

	slices.SortFunc(out, func(a, b domain.TransactionRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.LocalID, b.LocalID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) UpdateRecordContent(ctx context.Context, localID string, items []domain.LineItem, total decimal.Decimal, notes *string, at time.Time) (*domain.TransactionRecord, error) {
	if len(items) == 0 {
		return nil, store.ErrInvalidRecord
	}

	unlock, err := s.lock(ctx, true, tableTransactions)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, ok := s.records[localID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rec.Kind == domain.KindBill && rec.Bill != nil && rec.Bill.Status.Terminal() {
		return nil, store.ErrInvalidTransition
	}
	if err := commitCheck(ctx); err != nil {
		return nil, err
	}

	rec.Items = slices.Clone(items)
	rec.TotalAmount = total
	if notes != nil {
		rec.Notes = *notes
	}
	rec.UpdatedAt = at
	return cloneRecord(rec), nil
}

func (s *Store) SetBillStatus(ctx context.Context, localID string, status domain.BillStatus, at time.Time) (*domain.TransactionRecord, error) {
	if !status.Terminal() {
		return nil, store.ErrInvalidTransition
	}

	unlock, err := s.lock(ctx, true, tableTransactions, tableSlots)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, ok := s.records[localID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if rec.Kind != domain.KindBill || rec.Bill == nil {
		return nil, fmt.Errorf("%w: %s is not a bill", store.ErrInvalidRecord, localID)
	}
	if rec.Bill.Status != domain.BillActive {
		return nil, store.ErrInvalidTransition
	}

	var release *domain.TableSlot
	if table := rec.Bill.TableNumber; table != "" {
		if slotID, ok := s.slotByNumber[table]; ok && !s.otherActiveBillOn(table, localID) {
			slot := s.slotsByID[slotID]
			slot.Status = domain.TableAvailable
			release = &slot
		}
	}
	if err := commitCheck(ctx); err != nil {
		return nil, err
	}

	rec.Bill.Status = status
	rec.UpdatedAt = at
	if release != nil {
		s.slotsByID[release.ID] = *release
	}
	return cloneRecord(rec), nil
}

func (s *Store) otherActiveBillOn(table string, exceptID string) bool {
	for id, rec := range s.records {
		if id == exceptID || rec.Kind != domain.KindBill || rec.Bill == nil {
			continue
		}
		if rec.Bill.TableNumber == table && rec.Bill.Status == domain.BillActive {
			return true
		}
	}
	return false
}

func (s *Store) MarkSynced(ctx context.Context, localID string, serverID string, serverNumber string, at time.Time) error {
	unlock, err := s.lock(ctx, true, tableTransactions)
	if err != nil {
		return err
	}
	defer unlock()

	rec, ok := s.records[localID]
	if !ok {
		return store.ErrNotFound
	}
	if err := commitCheck(ctx); err != nil {
		return err
	}

	s.moveStatus(rec, domain.SyncSynced)
	rec.ServerID = serverID
	if serverNumber != "" {
		rec.ServerNumber = serverNumber
	}
	rec.Error = ""
	rec.UpdatedAt = at
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, localID string, message string, at time.Time) error {
	unlock, err := s.lock(ctx, true, tableTransactions)
	if err != nil {
		return err
	}
	defer unlock()

	rec, ok := s.records[localID]
	if !ok {
		return store.ErrNotFound
	}
	if rec.SyncStatus == domain.SyncSynced {
		return store.ErrInvalidTransition
	}
	if err := commitCheck(ctx); err != nil {
		return err
	}

	s.moveStatus(rec, domain.SyncFailed)
	rec.Error = message
	rec.UpdatedAt = at
	return nil
}

func (s *Store) moveStatus(rec *domain.TransactionRecord, to domain.SyncStatus) {
	delete(s.bySyncStatus[rec.SyncStatus], rec.LocalID)
	rec.SyncStatus = to
	s.bySyncStatus[to][rec.LocalID] = struct{}{}
}

func (s *Store) CountBySyncStatus(ctx context.Context) (domain.SyncCounts, error) {
	unlock, err := s.lock(ctx, false, tableTransactions)
	if err != nil {
		return domain.SyncCounts{}, err
	}
	defer unlock()

	return domain.SyncCounts{
		Pending: len(s.bySyncStatus[domain.SyncPending]),
		Synced:  len(s.bySyncStatus[domain.SyncSynced]),
		Failed:  len(s.bySyncStatus[domain.SyncFailed]),
	}, nil
}

func (s *Store) NextSequence(ctx context.Context, key string) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, store.ErrInvalidRecord
	}
	unlock, err := s.lock(ctx, true, tableSequences)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := commitCheck(ctx); err != nil {
		return 0, err
	}
	s.sequences[key]++
	return s.sequences[key], nil
}

func (s *Store) ListTableSlots(ctx context.Context) ([]domain.TableSlot, error) {
	unlock, err := s.lock(ctx, false, tableSlots)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.slotList(), nil
}

func (s *Store) slotList() []domain.TableSlot {
	slots := make([]domain.TableSlot, 0, len(s.slotsByID))
	for _, slot := range s.slotsByID {
		slots = append(slots, slot)
	}
	store.SortSlots(slots)
	return slots
}

func (s *Store) GetTableSlot(ctx context.Context, tableNumber string) (*domain.TableSlot, error) {
	unlock, err := s.lock(ctx, false, tableSlots)
	if err != nil {
		return nil, err
	}
	defer unlock()

	slotID, ok := s.slotByNumber[tableNumber]
	if !ok {
		return nil, store.ErrTableNotFound
	}
	slot := s.slotsByID[slotID]
	return &slot, nil
}

func (s *Store) RegenerateTableSlots(ctx context.Context, count int, prefix string) (domain.RegenerateResult, error) {
	unlock, err := s.lock(ctx, true, tableSlots)
	if err != nil {
		return domain.RegenerateResult{}, err
	}
	defer unlock()

	plan, err := store.PlanRegeneration(s.slotList(), count, prefix, uuid.NewString)
	if err != nil {
		return domain.RegenerateResult{}, err
	}
	if err := commitCheck(ctx); err != nil {
		return domain.RegenerateResult{}, err
	}

	for _, slot := range plan.Remove {
		delete(s.slotsByID, slot.ID)
		delete(s.slotByNumber, slot.TableNumber)
	}
	for _, slot := range plan.Create {
		s.slotsByID[slot.ID] = slot
		s.slotByNumber[slot.TableNumber] = slot.ID
	}
	return plan.Result(), nil
}

func (s *Store) CreateBillTag(ctx context.Context, tag domain.BillTag) (*domain.BillTag, error) {
	tag.TagName = strings.TrimSpace(tag.TagName)
	if tag.ID == "" || tag.TagName == "" {
		return nil, store.ErrInvalidRecord
	}

	unlock, err := s.lock(ctx, true, tableTags)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, existing := range s.tagsByID {
		if strings.EqualFold(existing.TagName, tag.TagName) {
			return nil, store.ErrDuplicateTag
		}
	}
	if err := commitCheck(ctx); err != nil {
		return nil, err
	}

	s.tagsByID[tag.ID] = tag
	return &tag, nil
}

func (s *Store) ListBillTags(ctx context.Context) ([]domain.BillTag, error) {
	unlock, err := s.lock(ctx, false, tableTags)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tags := make([]domain.BillTag, 0, len(s.tagsByID))
	for _, tag := range s.tagsByID {
		tags = append(tags, tag)
	}
	slices.SortFunc(tags, func(a, b domain.BillTag) int {
		return cmp.Compare(strings.ToLower(a.TagName), strings.ToLower(b.TagName))
	})
	return tags, nil
}

func (s *Store) DeleteBillTag(ctx context.Context, id string) error {
	unlock, err := s.lock(ctx, true, tableTags)
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := s.tagsByID[id]; !ok {
		return store.ErrNotFound
	}
	if err := commitCheck(ctx); err != nil {
		return err
	}
	delete(s.tagsByID, id)
	return nil
}

// ReplaceCatalog builds the new mirror off to the side and swaps it in, so
// a rejected snapshot leaves the previous mirror untouched.
func (s *Store) ReplaceCatalog(ctx context.Context, snapshot domain.CatalogSnapshot) error {
	if err := store.ValidateSnapshot(snapshot); err != nil {
		return err
	}

	unlock, err := s.lock(ctx, true, tableCatalog)
	if err != nil {
		return err
	}
	defer unlock()

	next := cloneSnapshot(snapshot)
	locations := make(map[string]domain.StoreLocation, len(next.StoreLocations))
	for _, loc := range next.StoreLocations {
		locations[loc.ID] = loc
	}
	if err := commitCheck(ctx); err != nil {
		return err
	}

	s.catalog = next
	s.storeLocations = locations
	return nil
}

func (s *Store) LoadCatalog(ctx context.Context) (domain.CatalogSnapshot, error) {
	unlock, err := s.lock(ctx, false, tableCatalog)
	if err != nil {
		return domain.CatalogSnapshot{}, err
	}
	defer unlock()

	return cloneSnapshot(s.catalog), nil
}

func (s *Store) GetStoreLocation(ctx context.Context, id string) (*domain.StoreLocation, error) {
	unlock, err := s.lock(ctx, false, tableCatalog)
	if err != nil {
		return nil, err
	}
	defer unlock()

	loc, ok := s.storeLocations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &loc, nil
}

func cloneRecord(src *domain.TransactionRecord) *domain.TransactionRecord {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	if src.Customer != nil {
		customer := *src.Customer
		dst.Customer = &customer
	}
	if src.Sale != nil {
		sale := *src.Sale
		sale.PaymentDetails = slices.Clone(src.Sale.PaymentDetails)
		dst.Sale = &sale
	}
	if src.Bill != nil {
		bill := *src.Bill
		if src.Bill.Tag != nil {
			tag := *src.Bill.Tag
			bill.Tag = &tag
		}
		dst.Bill = &bill
	}
	return &dst
}

func cloneSnapshot(src domain.CatalogSnapshot) domain.CatalogSnapshot {
	return domain.CatalogSnapshot{
		Users:          slices.Clone(src.Users),
		Items:          slices.Clone(src.Items),
		StoreLocations: slices.Clone(src.StoreLocations),
		Categories:     slices.Clone(src.Categories),
		Menu:           slices.Clone(src.Menu),
	}
}
