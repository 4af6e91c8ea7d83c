package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/numbering"
	"kasirinaja/terminal/internal/store"
)

// SaveSale records a sale locally with sync_status pending. The result is
// always filled in; err carries the classified failure for callers that
// need it.
func (s *Service) SaveSale(ctx context.Context, draft domain.SaleDraft) (domain.SaveResult, error) {
	if err := s.validate(draft); err != nil {
		return failure(err), err
	}

	rec := domain.TransactionRecord{
		Kind:               domain.KindSale,
		BusinessLocationID: strings.TrimSpace(draft.BusinessLocationID),
		StoreLocationID:    strings.TrimSpace(draft.StoreLocationID),
		User:               draft.User,
		Customer:           draft.Customer,
		Notes:              draft.Notes,
		Items:              draft.Items,
		Sale: &domain.SaleDetails{
			Change:         draft.Change,
			PaymentDetails: draft.PaymentDetails,
		},
	}
	return s.record(ctx, rec)
}

// SaveBill records an open bill. When a table is named the slot is occupied
// in the same storage transaction as the insert.
func (s *Service) SaveBill(ctx context.Context, draft domain.BillDraft) (domain.SaveResult, error) {
	if err := s.validate(draft); err != nil {
		return failure(err), err
	}

	rec := domain.TransactionRecord{
		Kind:               domain.KindBill,
		BusinessLocationID: strings.TrimSpace(draft.BusinessLocationID),
		StoreLocationID:    strings.TrimSpace(draft.StoreLocationID),
		User:               draft.User,
		Customer:           draft.Customer,
		Notes:              draft.Notes,
		Items:              draft.Items,
		Bill: &domain.BillDetails{
			TableNumber: strings.TrimSpace(draft.TableNumber),
			Tag:         draft.Tag,
			Status:      domain.BillActive,
		},
	}
	return s.record(ctx, rec)
}

func (s *Service) record(ctx context.Context, rec domain.TransactionRecord) (domain.SaveResult, error) {
	if err := s.device.Validate(); err != nil {
		s.log.Warn("save rejected", "kind", rec.Kind, "error", err)
		return failure(err), err
	}
	if rec.BusinessLocationID == "" {
		rec.BusinessLocationID = s.businessID
	}
	if rec.StoreLocationID == "" {
		rec.StoreLocationID = s.storeID
	}
	if rec.BusinessLocationID == "" || rec.StoreLocationID == "" {
		err := fmt.Errorf("%w: business and store location are required", ErrInvalidDraft)
		return failure(err), err
	}

	now := s.now()
	rec.LocalID = numbering.NewLocalID()
	rec.TotalAmount = domain.TotalFor(rec.Kind, rec.Items)
	rec.SyncStatus = domain.SyncPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	storeCtx, cancel := s.withStorageTimeout(ctx)
	defer cancel()

	rec.Prefix = s.prefixFor(storeCtx, rec.Kind, rec.StoreLocationID)
	number, err := s.numberer.Next(storeCtx, rec.Prefix)
	if err != nil {
		return s.saveFailed(rec, err)
	}
	rec.Number = number

	if _, err := s.repo.CreateRecord(storeCtx, rec); err != nil {
		return s.saveFailed(rec, err)
	}

	s.log.Info("transaction recorded",
		"local_id", rec.LocalID,
		"kind", rec.Kind,
		"number", rec.Number,
		"table_number", rec.TableNumber(),
	)
	s.armSync(ctx, rec)

	return domain.SaveResult{
		Success: true,
		Message: fmt.Sprintf("%s %s saved", rec.Kind, rec.Number),
		LocalID: rec.LocalID,
		Number:  rec.Number,
	}, nil
}

// prefixFor prefers the numbering prefix mirrored from the server for this
// store location and falls back to the configured one.
func (s *Service) prefixFor(ctx context.Context, kind domain.RecordKind, storeLocationID string) string {
	fallback := s.receiptPrefix
	if kind == domain.KindBill {
		fallback = s.billPrefix
	}

	loc, err := s.repo.GetStoreLocation(ctx, storeLocationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("store location lookup failed", "store_location_id", storeLocationID, "error", err)
		}
		return numbering.NormalizePrefix(fallback)
	}

	prefix := loc.ReceiptPrefix
	if kind == domain.KindBill {
		prefix = loc.BillPrefix
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = fallback
	}
	return numbering.NormalizePrefix(prefix)
}

// saveFailed classifies a failed write. Table rules keep their message;
// anything from the storage engine is reported generically.
func (s *Service) saveFailed(rec domain.TransactionRecord, err error) (domain.SaveResult, error) {
	table := rec.TableNumber()
	switch {
	case errors.Is(err, store.ErrTableOccupied):
		return domain.SaveResult{Message: fmt.Sprintf("table %s is already occupied", table)}, err
	case errors.Is(err, store.ErrTableNotFound):
		return domain.SaveResult{Message: fmt.Sprintf("table %s does not exist", table)}, err
	}

	s.log.Error("save transaction",
		"local_id", rec.LocalID,
		"kind", rec.Kind,
		"timeout", errors.Is(err, store.ErrStorageTimeout),
		"error", err,
	)
	return domain.SaveResult{Message: ErrSaveFailed.Error()}, fmt.Errorf("%w: %w", ErrSaveFailed, err)
}

func (s *Service) armSync(ctx context.Context, rec domain.TransactionRecord) {
	if s.trigger == nil {
		return
	}
	if err := s.trigger.Arm(ctx, SyncTag); err != nil {
		s.log.Warn("background sync registration failed", "local_id", rec.LocalID, "tag", SyncTag, "error", err)
	}
}

// UpdateRecord replaces the line items (and optionally the notes) of a
// record and recomputes its total. Sync state is left alone.
func (s *Service) UpdateRecord(ctx context.Context, kind domain.RecordKind, localID string, update domain.RecordUpdate) (domain.SaveResult, error) {
	if !kind.Valid() {
		err := fmt.Errorf("%w: unknown kind %q", ErrInvalidDraft, kind)
		return failure(err), err
	}
	if err := s.validate(update); err != nil {
		return failure(err), err
	}

	storeCtx, cancel := s.withStorageTimeout(ctx)
	defer cancel()

	existing, err := s.repo.GetRecord(storeCtx, localID)
	if err != nil {
		return s.mutationFailed(localID, err)
	}
	if existing.Kind != kind {
		return s.mutationFailed(localID, store.ErrNotFound)
	}

	total := domain.TotalFor(kind, update.Items)
	updated, err := s.repo.UpdateRecordContent(storeCtx, localID, update.Items, total, update.Notes, s.now())
	if err != nil {
		return s.mutationFailed(localID, err)
	}

	s.armSync(ctx, *updated)
	return domain.SaveResult{
		Success: true,
		Message: fmt.Sprintf("%s %s updated", updated.Kind, updated.Number),
		LocalID: updated.LocalID,
		Number:  updated.Number,
	}, nil
}

// VoidBill marks a bill voided and frees its table. Voiding is terminal.
func (s *Service) VoidBill(ctx context.Context, localID string) (domain.SaveResult, error) {
	return s.finishBill(ctx, localID, domain.BillVoided)
}

// CloseBill settles a bill and frees its table.
func (s *Service) CloseBill(ctx context.Context, localID string) (domain.SaveResult, error) {
	return s.finishBill(ctx, localID, domain.BillClosed)
}

func (s *Service) finishBill(ctx context.Context, localID string, status domain.BillStatus) (domain.SaveResult, error) {
	storeCtx, cancel := s.withStorageTimeout(ctx)
	defer cancel()

	rec, err := s.repo.SetBillStatus(storeCtx, localID, status, s.now())
	if err != nil {
		return s.mutationFailed(localID, err)
	}

	s.log.Info("bill finished", "local_id", localID, "status", status, "table_number", rec.Bill.TableNumber)
	s.armSync(ctx, *rec)
	return domain.SaveResult{
		Success: true,
		Message: fmt.Sprintf("bill %s %s", rec.Number, status),
		LocalID: rec.LocalID,
		Number:  rec.Number,
	}, nil
}

func (s *Service) mutationFailed(localID string, err error) (domain.SaveResult, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.SaveResult{LocalID: localID, Message: "transaction not found"}, err
	case errors.Is(err, store.ErrInvalidTransition):
		return domain.SaveResult{LocalID: localID, Message: "bill is no longer active"}, err
	case errors.Is(err, store.ErrInvalidRecord):
		return domain.SaveResult{LocalID: localID, Message: "transaction is not a bill"}, err
	}
	s.log.Error("update transaction", "local_id", localID, "error", err)
	return domain.SaveResult{LocalID: localID, Message: ErrSaveFailed.Error()}, fmt.Errorf("%w: %w", ErrSaveFailed, err)
}

func failure(err error) domain.SaveResult {
	return domain.SaveResult{Message: err.Error()}
}
