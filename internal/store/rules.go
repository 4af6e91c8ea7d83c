package store

import (
	"fmt"
	"slices"
	"strings"

	"kasirinaja/terminal/internal/domain"
)

// ValidateNewRecord checks the shape of a record before it is inserted.
func ValidateNewRecord(rec domain.TransactionRecord) error {
	if strings.TrimSpace(rec.LocalID) == "" || len(rec.Items) == 0 {
		return ErrInvalidRecord
	}
	switch rec.Kind {
	case domain.KindSale:
		if rec.Sale == nil || rec.Bill != nil {
			return ErrInvalidRecord
		}
	case domain.KindBill:
		if rec.Bill == nil || rec.Sale != nil {
			return ErrInvalidRecord
		}
		if rec.Bill.Status != domain.BillActive {
			return fmt.Errorf("%w: new bill must be active", ErrInvalidRecord)
		}
	default:
		return ErrInvalidRecord
	}
	if rec.SyncStatus != domain.SyncPending {
		return fmt.Errorf("%w: new record must be pending", ErrInvalidRecord)
	}
	return nil
}

// ValidateSnapshot rejects a catalog snapshot with missing or duplicate ids.
func ValidateSnapshot(snapshot domain.CatalogSnapshot) error {
	check := func(table string, ids []string) error {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if strings.TrimSpace(id) == "" {
				return fmt.Errorf("%w: %s row without id", ErrInvalidRecord, table)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: duplicate %s id %q", ErrInvalidRecord, table, id)
			}
			seen[id] = struct{}{}
		}
		return nil
	}

	tables := []struct {
		name string
		ids  []string
	}{
		{"users", idsOf(snapshot.Users, func(v domain.CatalogUser) string { return v.ID })},
		{"categories", idsOf(snapshot.Categories, func(v domain.Category) string { return v.ID })},
		{"items", idsOf(snapshot.Items, func(v domain.CatalogItem) string { return v.ID })},
		{"store_locations", idsOf(snapshot.StoreLocations, func(v domain.StoreLocation) string { return v.ID })},
		{"menu", idsOf(snapshot.Menu, func(v domain.MenuEntry) string { return v.ID })},
	}
	for _, table := range tables {
		if err := check(table.name, table.ids); err != nil {
			return err
		}
	}
	return nil
}

func idsOf[T any](rows []T, id func(T) string) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, id(row))
	}
	return out
}

// RegenerationPlan is the outcome of resizing the slot pool: occupied slots
// are kept as-is and every available slot is replaced by Create.
type RegenerationPlan struct {
	Keep   []domain.TableSlot
	Remove []domain.TableSlot
	Create []domain.TableSlot
}

// PlanRegeneration computes a resize of the table slot pool to count slots
// named prefix-1, prefix-2, ... skipping numbers held by occupied slots.
func PlanRegeneration(current []domain.TableSlot, count int, prefix string, newID func() string) (RegenerationPlan, error) {
	prefix = strings.TrimSpace(prefix)
	if count < 0 || prefix == "" {
		return RegenerationPlan{}, ErrInvalidRecord
	}

	var plan RegenerationPlan
	used := make(map[string]struct{}, len(current))
	for _, slot := range current {
		if slot.Status == domain.TableOccupied {
			plan.Keep = append(plan.Keep, slot)
			used[slot.TableNumber] = struct{}{}
			continue
		}
		plan.Remove = append(plan.Remove, slot)
	}

	if count < len(plan.Keep) {
		return RegenerationPlan{}, &ResourceConflictError{
			Requested:      count,
			Occupied:       len(plan.Keep),
			RemovableCount: len(plan.Remove),
		}
	}

	need := count - len(plan.Keep)
	for n := 1; len(plan.Create) < need; n++ {
		name := fmt.Sprintf("%s-%d", prefix, n)
		if _, taken := used[name]; taken {
			continue
		}
		plan.Create = append(plan.Create, domain.TableSlot{
			ID:          newID(),
			TableNumber: name,
			Status:      domain.TableAvailable,
		})
	}
	return plan, nil
}

// Result summarizes a plan after it has been applied.
func (p RegenerationPlan) Result() domain.RegenerateResult {
	slots := make([]domain.TableSlot, 0, len(p.Keep)+len(p.Create))
	slots = append(slots, p.Keep...)
	slots = append(slots, p.Create...)
	SortSlots(slots)
	return domain.RegenerateResult{
		Success:  true,
		Message:  fmt.Sprintf("%d table(s) ready, %d occupied kept", len(slots), len(p.Keep)),
		Created:  len(p.Create),
		Occupied: len(p.Keep),
		Total:    len(slots),
		Slots:    slots,
	}
}

// SortSlots orders slots by table number with numeric suffixes compared
// numerically, so T-2 sorts before T-10.
func SortSlots(slots []domain.TableSlot) {
	slices.SortFunc(slots, func(a, b domain.TableSlot) int {
		return CompareTableNumbers(a.TableNumber, b.TableNumber)
	})
}

func CompareTableNumbers(a string, b string) int {
	ap, an, aok := splitTableNumber(a)
	bp, bn, bok := splitTableNumber(b)
	if aok && bok && ap == bp {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func splitTableNumber(v string) (string, int, bool) {
	idx := strings.LastIndex(v, "-")
	if idx < 0 || idx == len(v)-1 {
		return "", 0, false
	}
	n := 0
	for _, r := range v[idx+1:] {
		if r < '0' || r > '9' {
			return "", 0, false
		}
		n = n*10 + int(r-'0')
	}
	return v[:idx], n, true
}
