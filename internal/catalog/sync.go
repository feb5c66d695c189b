package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"verabot/internal/models"
)

// ErrNotEnabled is returned when the catalog provider is not configured.
var ErrNotEnabled = errors.New("catalog provider not configured")

// Lister is the slice of the store client the sync needs: one page of
// products at a time, optionally newest first.
type Lister interface {
	Enabled() bool
	ListProducts(ctx context.Context, page, perPage int, newestFirst bool) ([]ProviderProduct, error)
}

// ProviderProduct pairs a mapped product with its source-side
// modification time.
type ProviderProduct struct {
	Product  models.Product
	Modified *time.Time
}

// Result summarizes one sync run.
type Result struct {
	Saved int `json:"saved"`
	Pages int `json:"pages"`
}

// Syncer walks the provider catalog page by page into the cache.
type Syncer struct {
	cache    *Cache
	provider Lister
	db       *sqlx.DB
	interval time.Duration
	pageSize int
	maxPages int
}

func NewSyncer(cache *Cache, provider Lister, db *sqlx.DB, interval time.Duration, pageSize, maxPages int) *Syncer {
	if pageSize < 1 {
		pageSize = 100
	}
	if maxPages < 1 {
		maxPages = 50
	}
	return &Syncer{cache: cache, provider: provider, db: db,
		interval: interval, pageSize: pageSize, maxPages: maxPages}
}

// SyncFull walks the whole catalog in page order until an empty page or
// the page ceiling. Page order ascending keeps runs idempotent.
func (s *Syncer) SyncFull(ctx context.Context) (Result, error) {
	return s.walk(ctx, false)
}

// SyncRecent walks newest-first, which lets short periodic runs pick up
// fresh edits without paging through the whole catalog.
func (s *Syncer) SyncRecent(ctx context.Context) (Result, error) {
	return s.walk(ctx, true)
}

func (s *Syncer) walk(ctx context.Context, newestFirst bool) (Result, error) {
	if s.provider == nil || !s.provider.Enabled() {
		return Result{}, ErrNotEnabled
	}
	var res Result
	for page := 1; page <= s.maxPages; page++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		items, err := s.provider.ListProducts(ctx, page, s.pageSize, newestFirst)
		if err != nil {
			return res, fmt.Errorf("catalog page %d: %w", page, err)
		}
		if len(items) == 0 {
			break
		}
		res.Pages++
		for _, it := range items {
			if err := s.cache.Upsert(it.Product, it.Modified); err != nil {
				return res, err
			}
			res.Saved++
		}
		if len(items) < s.pageSize {
			break
		}
	}
	if err := s.setLastSync(time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("Failed to record catalog sync timestamp")
	}
	log.Info().Int("saved", res.Saved).Int("pages", res.Pages).
		Bool("newest_first", newestFirst).Msg("Catalog sync finished")
	return res, nil
}

// RunPeriodic loops SyncRecent on the configured interval until ctx is
// cancelled. Failures are logged and the loop continues; a flapping
// store must not kill the process.
func (s *Syncer) RunPeriodic(ctx context.Context) {
	if s.provider == nil || !s.provider.Enabled() {
		log.Info().Msg("Catalog sync disabled, provider not configured")
		return
	}
	// Warm the cache right away; a cold start must not wait a full
	// interval before the fallback path has anything to serve.
	if _, err := s.SyncRecent(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Initial catalog sync failed")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Catalog sync loop stopped")
			return
		case <-ticker.C:
			if _, err := s.SyncRecent(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Periodic catalog sync failed")
			}
		}
	}
}

// LastSync returns the stored timestamp of the most recent successful
// run, or nil when no run has finished yet.
func (s *Syncer) LastSync() (*time.Time, error) {
	var ts *time.Time
	err := s.db.Get(&ts, `SELECT last_sync_at FROM sync_state WHERE id = 1`)
	if err != nil {
		return nil, nil
	}
	return ts, nil
}

func (s *Syncer) setLastSync(t time.Time) error {
	q := s.db.Rebind(`INSERT INTO sync_state (id, last_sync_at, updated_at) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_sync_at = excluded.last_sync_at, updated_at = excluded.updated_at`)
	_, err := s.db.Exec(q, t, t)
	return err
}
