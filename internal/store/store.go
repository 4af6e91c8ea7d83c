package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRecord     = errors.New("invalid record")
	ErrTableNotFound     = errors.New("table not found")
	ErrTableOccupied     = errors.New("table occupied")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateTag      = errors.New("bill tag already exists")
	ErrStorageTimeout    = errors.New("storage timeout")
)

// ResourceConflictError rejects a table slot resize that would remove
// occupied slots.
type ResourceConflictError struct {
	Requested      int
	Occupied       int
	RemovableCount int
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("cannot resize to %d tables: %d occupied, only %d available table(s) can be removed",
		e.Requested, e.Occupied, e.RemovableCount)
}

// IsLogical reports whether err is a rule rejection from the store rather
// than a failure of the storage engine itself.
func IsLogical(err error) bool {
	var conflict *ResourceConflictError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, ErrTableNotFound) ||
		errors.Is(err, ErrTableOccupied) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrDuplicateTag) ||
		errors.As(err, &conflict)
}

// IsStorageError reports whether err is a failure of the storage engine:
// anything that is not a rule rejection, timeouts included.
func IsStorageError(err error) bool {
	return err != nil && !IsLogical(err)
}

// MapContextErr turns an expired storage deadline into ErrStorageTimeout.
func MapContextErr(err error) error {
	if err == nil || errors.Is(err, ErrStorageTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	}
	return err
}

type Repository interface {
	CreateRecord(ctx context.Context, rec domain.TransactionRecord) (*domain.TransactionRecord, error)
	GetRecord(ctx context.Context, localID string) (*domain.TransactionRecord, error)
	ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.TransactionRecord, error)
	UpdateRecordContent(ctx context.Context, localID string, items []domain.LineItem, total decimal.Decimal, notes *string, at time.Time) (*domain.TransactionRecord, error)
	SetBillStatus(ctx context.Context, localID string, status domain.BillStatus, at time.Time) (*domain.TransactionRecord, error)
	MarkSynced(ctx context.Context, localID string, serverID string, serverNumber string, at time.Time) error
	MarkFailed(ctx context.Context, localID string, message string, at time.Time) error
	CountBySyncStatus(ctx context.Context) (domain.SyncCounts, error)

	NextSequence(ctx context.Context, key string) (int64, error)

	ListTableSlots(ctx context.Context) ([]domain.TableSlot, error)
	GetTableSlot(ctx context.Context, tableNumber string) (*domain.TableSlot, error)
	RegenerateTableSlots(ctx context.Context, count int, prefix string) (domain.RegenerateResult, error)

	CreateBillTag(ctx context.Context, tag domain.BillTag) (*domain.BillTag, error)
	ListBillTags(ctx context.Context) ([]domain.BillTag, error)
	DeleteBillTag(ctx context.Context, id string) error

	ReplaceCatalog(ctx context.Context, snapshot domain.CatalogSnapshot) error
	LoadCatalog(ctx context.Context) (domain.CatalogSnapshot, error)
	GetStoreLocation(ctx context.Context, id string) (*domain.StoreLocation, error)
}
