// Package catalog keeps the terminal's read-only mirror of users, items,
// categories, store locations and menu in step with the server.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/observability"
	"kasirinaja/terminal/internal/remote"
	"kasirinaja/terminal/internal/store"
)

const DefaultReplaceTimeout = 30 * time.Second

// Fetcher is satisfied by *remote.Client.
type Fetcher interface {
	FetchCatalog(ctx context.Context, businessLocationID string, storeLocationID string) (domain.CatalogSnapshot, error)
}

type Options struct {
	BusinessLocationID string
	StoreLocationID    string
	ReplaceTimeout     time.Duration
	Metrics            *observability.SyncMetrics
	Logger             *slog.Logger
}

type Syncer struct {
	repo           store.Repository
	fetcher        Fetcher
	businessID     string
	storeID        string
	replaceTimeout time.Duration
	metrics        *observability.SyncMetrics
	log            *slog.Logger
	pulls          singleflight.Group
}

func New(repo store.Repository, fetcher Fetcher, opts Options) *Syncer {
	if opts.ReplaceTimeout <= 0 {
		opts.ReplaceTimeout = DefaultReplaceTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{
		repo:           repo,
		fetcher:        fetcher,
		businessID:     opts.BusinessLocationID,
		storeID:        opts.StoreLocationID,
		replaceTimeout: opts.ReplaceTimeout,
		metrics:        opts.Metrics,
		log:            opts.Logger.With("component", "catalog"),
	}
}

// Pull fetches a full snapshot and swaps it in wholesale. Any failure
// leaves the previous mirror in place; there is no automatic retry.
// Empty ids fall back to the configured location.
func (s *Syncer) Pull(ctx context.Context, businessLocationID string, storeLocationID string) domain.CatalogResult {
	bid := strings.TrimSpace(businessLocationID)
	if bid == "" {
		bid = s.businessID
	}
	sid := strings.TrimSpace(storeLocationID)
	if sid == "" {
		sid = s.storeID
	}

	// The shared pull does not belong to any one caller; a caller that goes
	// away only stops waiting.
	detached := context.WithoutCancel(ctx)
	ch := s.pulls.DoChan(bid+"/"+sid, func() (any, error) {
		res := s.pull(detached, bid, sid)
		s.metrics.RecordCatalogPull(res.Success)
		return res, nil
	})
	select {
	case res := <-ch:
		return res.Val.(domain.CatalogResult)
	case <-ctx.Done():
		return domain.CatalogResult{Message: "catalog pull still running"}
	}
}

func (s *Syncer) pull(ctx context.Context, bid string, sid string) domain.CatalogResult {
	logger := s.log.With("business_location_id", bid, "store_location_id", sid)

	snapshot, err := s.fetcher.FetchCatalog(ctx, bid, sid)
	if err != nil {
		logger.Warn("fetch catalog", "error", err)
		if msg, ok := remote.ServerMessage(err); ok {
			return domain.CatalogResult{Message: msg}
		}
		return domain.CatalogResult{Message: "failed to fetch catalog"}
	}

	if err := store.ValidateSnapshot(snapshot); err != nil {
		logger.Warn("catalog rejected", "error", err)
		return domain.CatalogResult{Message: fmt.Sprintf("catalog rejected: %v", err)}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.replaceTimeout)
	defer cancel()
	if err := s.repo.ReplaceCatalog(storeCtx, snapshot); err != nil {
		logger.Error("replace catalog", "error", err)
		return domain.CatalogResult{Message: "failed to store catalog"}
	}

	counts := snapshot.Counts()
	logger.Info("catalog mirror replaced",
		"items", counts.Items,
		"users", counts.Users,
		"categories", counts.Categories,
		"store_locations", counts.StoreLocations,
		"menu", counts.Menu,
	)
	return domain.CatalogResult{Success: true, Message: "catalog updated", Counts: counts}
}

// Load returns the current mirror.
func (s *Syncer) Load(ctx context.Context) (domain.CatalogSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.replaceTimeout)
	defer cancel()
	return s.repo.LoadCatalog(ctx)
}
