package store

import (
	"context"
	"time"

	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
)

// Cache is the freshness layer over the current-snapshot row. An entry is
// fresh iff now - capturedAt < TTL; stale or absent entries are misses.
// Hits short-circuit the whole acquisition pipeline.
type Cache struct {
	store *Store
	ttl   time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewCache creates a cache over the store with the given TTL.
func NewCache(s *Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{
		store: s,
		ttl:   ttl,
		now:   time.Now,
	}
}

// TTL returns the configured freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the snapshot when fresh, nil on a miss. Stale entries are
// misses but are not deleted; Stale retrieves them for fallback serving.
func (c *Cache) Get(ctx context.Context, subjectID int64, platform string) (*models.Snapshot, error) {
	snap, err := c.store.Current(ctx, subjectID, platform)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		logger.LogCache(subjectID, false, 0)
		return nil, nil
	}

	age := snap.Age(c.now())
	if age >= c.ttl {
		logger.LogCache(subjectID, false, age.Hours())
		return nil, nil
	}

	logger.LogCache(subjectID, true, age.Hours())
	return snap, nil
}

// Stale returns whatever current snapshot exists, fresh or not. Used as
// the last-resort fallback when every acquisition path failed.
func (c *Cache) Stale(ctx context.Context, subjectID int64, platform string) (*models.Snapshot, error) {
	return c.store.Current(ctx, subjectID, platform)
}

// Age returns the current entry's age, or false when there is no entry.
func (c *Cache) Age(ctx context.Context, subjectID int64, platform string) (time.Duration, bool, error) {
	snap, err := c.store.Current(ctx, subjectID, platform)
	if err != nil || snap == nil {
		return 0, false, err
	}
	return snap.Age(c.now()), true, nil
}

// Put stores the snapshot as the current entry.
func (c *Cache) Put(ctx context.Context, snap *models.Snapshot) error {
	return c.store.SetCurrent(ctx, snap)
}

// Invalidate forces the next Get to miss regardless of the entry's age.
func (c *Cache) Invalidate(ctx context.Context, subjectID int64, platform string) error {
	return c.store.InvalidateCurrent(ctx, subjectID, platform)
}
