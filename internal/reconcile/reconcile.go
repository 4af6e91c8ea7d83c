// Package reconcile drives locally recorded transactions toward
// server-confirmed state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/inflight"
	"kasirinaja/terminal/internal/observability"
	"kasirinaja/terminal/internal/remote"
	"kasirinaja/terminal/internal/store"
)

//go:generate mockgen -destination=remote_mock.go -package=reconcile . Submitter

// Submitter is the part of the POS API the reconciler needs.
type Submitter interface {
	SubmitSale(ctx context.Context, storeLocationID string, payload remote.SalePayload) (remote.Ack, error)
	SubmitBill(ctx context.Context, storeLocationID string, payload remote.BillPayload) (remote.Ack, error)
}

const (
	DefaultInflightTTL    = time.Minute
	DefaultStorageTimeout = 5 * time.Second

	fallbackMessage = "sync failed"
)

type Options struct {
	Device         domain.DeviceContext
	Tracker        inflight.Tracker
	InflightTTL    time.Duration
	StorageTimeout time.Duration
	Metrics        *observability.SyncMetrics
	Logger         *slog.Logger
	Now            func() time.Time
}

type Reconciler struct {
	repo           store.Repository
	submitter      Submitter
	device         domain.DeviceContext
	tracker        inflight.Tracker
	inflightTTL    time.Duration
	storageTimeout time.Duration
	metrics        *observability.SyncMetrics
	log            *slog.Logger
	now            func() time.Time
	sweeps         singleflight.Group
}

func New(repo store.Repository, submitter Submitter, opts Options) *Reconciler {
	if opts.Tracker == nil {
		opts.Tracker = inflight.NewLocalTracker()
	}
	if opts.InflightTTL <= 0 {
		opts.InflightTTL = DefaultInflightTTL
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = DefaultStorageTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		repo:           repo,
		submitter:      submitter,
		device:         opts.Device,
		tracker:        opts.Tracker,
		inflightTTL:    opts.InflightTTL,
		storageTimeout: opts.StorageTimeout,
		metrics:        opts.Metrics,
		log:            opts.Logger.With("component", "reconciler"),
		now:            opts.Now,
	}
}

// SyncOne submits one record and records the outcome locally. It never
// returns an error: every failure is folded into the outcome so a sweep
// can carry on. An empty kind matches either kind.
func (r *Reconciler) SyncOne(ctx context.Context, kind domain.RecordKind, localID string) (out domain.SyncOutcome) {
	out = domain.SyncOutcome{LocalID: localID, Kind: kind}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("sync panicked", "local_id", localID, "panic", p)
			out = domain.SyncOutcome{LocalID: localID, Kind: kind, Message: fallbackMessage}
		}
	}()

	rec, done := r.load(ctx, kind, localID, &out)
	if done {
		return out
	}

	key := inflight.Key(localID)
	acquired, err := r.tracker.Acquire(ctx, key, r.inflightTTL)
	switch {
	case err != nil:
		// Without the shared marker the record is still submitted; the
		// server deduplicates on the provisional number.
		r.log.Warn("in-flight marker unavailable", "local_id", localID, "error", err)
	case !acquired:
		out.Skipped = true
		out.Message = "sync already in progress"
		r.metrics.RecordOutcome(string(rec.Kind), "skipped")
		return out
	default:
		defer func() {
			if err := r.tracker.Release(context.WithoutCancel(ctx), key); err != nil {
				r.log.Warn("release in-flight marker", "local_id", localID, "error", err)
			}
		}()
		// Another process may have finished this record between the first
		// read and the marker.
		if rec, done = r.load(ctx, kind, localID, &out); done {
			return out
		}
	}

	ack, err := r.submit(ctx, *rec)
	if err != nil {
		return r.fail(ctx, *rec, err)
	}
	return r.succeed(ctx, *rec, ack)
}

// load reads the record and reports done when there is nothing to submit.
func (r *Reconciler) load(ctx context.Context, kind domain.RecordKind, localID string, out *domain.SyncOutcome) (*domain.TransactionRecord, bool) {
	storeCtx, cancel := context.WithTimeout(ctx, r.storageTimeout)
	defer cancel()

	rec, err := r.repo.GetRecord(storeCtx, localID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && kind != "" && rec.Kind != kind) {
		out.Skipped = true
		out.Message = "transaction not found"
		return nil, true
	}
	if err != nil {
		r.log.Error("load record for sync", "local_id", localID, "error", err)
		out.Message = "failed to load transaction"
		return nil, true
	}

	out.Kind = rec.Kind
	if rec.SyncStatus == domain.SyncSynced {
		out.Success = true
		out.Skipped = true
		out.Message = "already synced"
		out.ServerID = rec.ServerID
		out.ServerNumber = rec.ServerNumber
		return nil, true
	}
	return rec, false
}

func (r *Reconciler) submit(ctx context.Context, rec domain.TransactionRecord) (remote.Ack, error) {
	payload, err := remote.BuildPayload(rec, r.device)
	if err != nil {
		return remote.Ack{}, err
	}
	switch p := payload.(type) {
	case remote.SalePayload:
		return r.submitter.SubmitSale(ctx, rec.StoreLocationID, p)
	case remote.BillPayload:
		return r.submitter.SubmitBill(ctx, rec.StoreLocationID, p)
	default:
		return remote.Ack{}, fmt.Errorf("unsupported payload %T", payload)
	}
}

func (r *Reconciler) succeed(ctx context.Context, rec domain.TransactionRecord, ack remote.Ack) domain.SyncOutcome {
	out := domain.SyncOutcome{
		LocalID:      rec.LocalID,
		Kind:         rec.Kind,
		ServerID:     ack.ServerID,
		ServerNumber: ack.ServerNumber,
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storageTimeout)
	defer cancel()
	if err := r.repo.MarkSynced(storeCtx, rec.LocalID, ack.ServerID, ack.ServerNumber, r.now()); err != nil {
		// The record stays unsynced locally and is sent again next sweep.
		r.log.Error("record sync success", "local_id", rec.LocalID, "server_id", ack.ServerID, "error", err)
		out.Message = "accepted by server but not recorded locally"
		r.metrics.RecordOutcome(string(rec.Kind), "failed")
		return out
	}

	out.Success = true
	out.Message = fmt.Sprintf("%s synced", rec.Kind)
	r.log.Info("record synced", "local_id", rec.LocalID, "kind", rec.Kind, "server_id", ack.ServerID)
	r.metrics.RecordOutcome(string(rec.Kind), "synced")
	return out
}

func (r *Reconciler) fail(ctx context.Context, rec domain.TransactionRecord, cause error) domain.SyncOutcome {
	message := failureMessage(cause)
	out := domain.SyncOutcome{LocalID: rec.LocalID, Kind: rec.Kind, Message: message}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storageTimeout)
	defer cancel()
	if err := r.repo.MarkFailed(storeCtx, rec.LocalID, message, r.now()); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		r.log.Error("record sync failure", "local_id", rec.LocalID, "error", err)
	}

	var logical *remote.LogicalError
	r.log.Warn("sync failed",
		"local_id", rec.LocalID,
		"kind", rec.Kind,
		"logical", errors.As(cause, &logical),
		"error", cause,
	)
	r.metrics.RecordOutcome(string(rec.Kind), "failed")
	return out
}

// failureMessage prefers the server's own words, then the error text.
func failureMessage(err error) string {
	if msg, ok := remote.ServerMessage(err); ok {
		return msg
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return fallbackMessage
}

// SyncAll runs a manual sweep.
func (r *Reconciler) SyncAll(ctx context.Context) domain.SweepResult {
	return r.Sweep(ctx, "manual")
}

// Sweep submits every pending and failed record one at a time and reports
// what is left afterwards. Concurrent sweeps in one process share a single
// run. The shared run is detached from any one caller, so a caller that goes
// away stops waiting without cutting the sweep short for the others.
func (r *Reconciler) Sweep(ctx context.Context, source string) domain.SweepResult {
	detached := context.WithoutCancel(ctx)
	ch := r.sweeps.DoChan("sweep", func() (any, error) {
		return r.sweep(detached, source), nil
	})
	select {
	case res := <-ch:
		return res.Val.(domain.SweepResult)
	case <-ctx.Done():
		return r.remaining(detached)
	}
}

func (r *Reconciler) sweep(ctx context.Context, source string) domain.SweepResult {
	timer := r.metrics.StartSweep(source)
	var result domain.SweepResult

	listCtx, cancel := context.WithTimeout(ctx, r.storageTimeout)
	records, err := r.repo.ListRecords(listCtx, domain.RecordFilter{
		Statuses: []domain.SyncStatus{domain.SyncPending, domain.SyncFailed},
	})
	cancel()
	if err != nil {
		r.log.Error("list unsynced records", "error", err)
	}

	for _, rec := range records {
		result.Attempted++
		if out := r.SyncOne(ctx, rec.Kind, rec.LocalID); out.Success && !out.Skipped {
			result.Synced++
		}
	}

	left := r.remaining(ctx)
	result.Pending = left.Pending
	result.Failed = left.Failed

	timer.End(result.Pending, result.Failed)
	if result.Attempted > 0 {
		r.log.Info("sync sweep finished",
			"source", source,
			"attempted", result.Attempted,
			"synced", result.Synced,
			"pending", result.Pending,
			"failed", result.Failed,
		)
	}
	return result
}

// remaining reads the current backlog. Counts stay zero when the store
// cannot answer.
func (r *Reconciler) remaining(ctx context.Context) domain.SweepResult {
	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storageTimeout)
	defer cancel()
	counts, err := r.repo.CountBySyncStatus(countCtx)
	if err != nil {
		r.log.Error("count unsynced records", "error", err)
		return domain.SweepResult{}
	}
	return domain.SweepResult{Pending: counts.Pending, Failed: counts.Failed}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("reconcile: sweep interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx, "loop")
		}
	}
}
