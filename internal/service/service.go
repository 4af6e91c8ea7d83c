// Package service records sales and bills on the terminal and owns the
// table slot and bill tag operations the till needs while offline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/numbering"
	"kasirinaja/terminal/internal/store"
)

// SyncTag names the deferred sweep armed after every local write.
const SyncTag = "sync-transactions"

const DefaultStorageTimeout = 5 * time.Second

// MaxTableSlots bounds a regeneration request. The store builds the whole
// plan in memory under the slot lock.
const MaxTableSlots = 1000

var (
	ErrInvalidDraft = errors.New("invalid transaction")
	ErrSaveFailed   = errors.New("failed to save transaction")
)

// Trigger asks the host to run a sync sweep later. Errors are reported so
// the caller can log them; a save never fails because of them.
type Trigger interface {
	Arm(ctx context.Context, tag string) error
}

type Options struct {
	Device             domain.DeviceContext
	BusinessLocationID string
	StoreLocationID    string
	ReceiptPrefix      string
	BillPrefix         string
	StorageTimeout     time.Duration
	Trigger            Trigger
	Logger             *slog.Logger
	Now                func() time.Time
}

type Service struct {
	repo           store.Repository
	numberer       *numbering.Numberer
	validator      *validator.Validate
	device         domain.DeviceContext
	businessID     string
	storeID        string
	receiptPrefix  string
	billPrefix     string
	storageTimeout time.Duration
	trigger        Trigger
	log            *slog.Logger
	now            func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = DefaultStorageTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReceiptPrefix == "" {
		opts.ReceiptPrefix = numbering.DefaultReceiptPrefix
	}
	if opts.BillPrefix == "" {
		opts.BillPrefix = numbering.DefaultBillPrefix
	}

	return &Service{
		repo:           repo,
		numberer:       numbering.New(repo, opts.Now),
		validator:      newValidator(),
		device:         opts.Device,
		businessID:     opts.BusinessLocationID,
		storeID:        opts.StoreLocationID,
		receiptPrefix:  opts.ReceiptPrefix,
		billPrefix:     opts.BillPrefix,
		storageTimeout: opts.StorageTimeout,
		trigger:        opts.Trigger,
		log:            opts.Logger.With("component", "recorder"),
		now:            opts.Now,
	}
}

// withStorageTimeout bounds a storage call. Stores honor the deadline up to
// commit, so a write that times out never lands afterwards.
func (s *Service) withStorageTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storageTimeout)
}

func (s *Service) ListRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.TransactionRecord, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDraft, filter.Kind)
	}
	ctx, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	return s.repo.ListRecords(ctx, filter)
}

func (s *Service) GetRecord(ctx context.Context, localID string) (*domain.TransactionRecord, error) {
	ctx, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	return s.repo.GetRecord(ctx, localID)
}

// SyncSummary reports how many records still wait for the server.
func (s *Service) SyncSummary(ctx context.Context) (domain.SyncCounts, error) {
	ctx, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	return s.repo.CountBySyncStatus(ctx)
}

func (s *Service) ListTableSlots(ctx context.Context) ([]domain.TableSlot, error) {
	ctx, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	return s.repo.ListTableSlots(ctx)
}

// RegenerateTableSlots resizes the slot pool. A count below the number of
// occupied tables is refused with the number of slots that could go.
func (s *Service) RegenerateTableSlots(ctx context.Context, count int, prefix string) (domain.RegenerateResult, error) {
	prefix = strings.TrimSpace(prefix)
	if count < 0 {
		return domain.RegenerateResult{Message: "table count must not be negative"}, ErrInvalidDraft
	}
	if count > MaxTableSlots {
		msg := fmt.Sprintf("table count must be at most %d", MaxTableSlots)
		return domain.RegenerateResult{Message: msg}, fmt.Errorf("%w: %s", ErrInvalidDraft, msg)
	}
	if prefix == "" {
		return domain.RegenerateResult{Message: "table prefix is required"}, ErrInvalidDraft
	}

	storeCtx, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	res, err := s.repo.RegenerateTableSlots(storeCtx, count, prefix)
	if err != nil {
		var conflict *store.ResourceConflictError
		if errors.As(err, &conflict) {
			return domain.RegenerateResult{
				Message:        conflict.Error(),
				Occupied:       conflict.Occupied,
				RemovableCount: conflict.RemovableCount,
			}, err
		}
		s.log.Error("regenerate table slots", "count", count, "prefix", prefix, "error", err)
		return domain.RegenerateResult{Message: "failed to regenerate tables"}, err
	}

	s.log.Info("table slots regenerated", "total", res.Total, "occupied", res.Occupied, "created", res.Created)
	return res, nil
}

func (s *Service) CreateBillTag(ctx context.Context, name string, color string) (*domain.BillTag, error) {
	tag := domain.BillTag{
		ID:        uuid.NewString(),
		TagName:   strings.TrimSpace(name),
		TagColor:  strings.TrimSpace(color),
		CreatedAt: s.now(),
	}
	if err := s.validate(tag); err != nil {
		return nil, err
	}

	ctx, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	return s.repo.CreateBillTag(ctx, tag)
}

func (s *Service) ListBillTags(ctx context.Context) ([]domain.BillTag, error) {
	ctx, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	return s.repo.ListBillTags(ctx)
}

func (s *Service) DeleteBillTag(ctx context.Context, id string) error {
	ctx, cancel := s.withStorageTimeout(ctx)
	defer cancel()
	return s.repo.DeleteBillTag(ctx, id)
}
