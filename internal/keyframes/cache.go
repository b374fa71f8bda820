package keyframes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// DefaultTTL is how long a committed entry is served without re-extraction
const DefaultTTL = 300 * time.Second

// ErrCorruptEntry is returned when an entry fails the integrity check
var ErrCorruptEntry = errors.New("keyframe entry failed integrity check")

// Lookup results, also used as metric labels
const (
	LookupHit             = "hit"
	LookupMiss            = "miss"
	LookupStale           = "stale"
	LookupDurationChanged = "duration_changed"
	LookupCorrupt         = "corrupt"
)

// Cache is the keyframe cache owned by one editing session
type Cache struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewCache creates a cache over store. A non-positive ttl uses DefaultTTL.
func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

// TTL returns the freshness window
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the stored entry for overlayID regardless of freshness
func (c *Cache) Get(ctx context.Context, overlayID string) (*models.KeyframeCacheEntry, error) {
	entry, err := c.store.Get(ctx, overlayID)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyframes for overlay %s: %w", overlayID, err)
	}
	return entry, nil
}

// Fresh returns the entry only if it was computed for durationInFrames, passes
// the integrity check and is younger than the TTL. A corrupt entry is dropped.
func (c *Cache) Fresh(ctx context.Context, overlayID string, durationInFrames int) (*models.KeyframeCacheEntry, string, error) {
	entry, err := c.Get(ctx, overlayID)
	if err != nil {
		return nil, "", err
	}

	result := c.classify(entry, durationInFrames)
	metrics.RecordKeyframeCacheLookup(result)

	switch result {
	case LookupHit:
		return entry, result, nil
	case LookupCorrupt:
		if err := c.store.Delete(ctx, overlayID); err != nil {
			return nil, result, fmt.Errorf("failed to drop corrupt keyframes for overlay %s: %w", overlayID, err)
		}
	}
	return nil, result, nil
}

func (c *Cache) classify(entry *models.KeyframeCacheEntry, durationInFrames int) string {
	switch {
	case entry == nil:
		return LookupMiss
	case !entry.Valid():
		return LookupCorrupt
	case entry.DurationInFrames != durationInFrames:
		return LookupDurationChanged
	case c.now().Sub(entry.LastUpdated) > c.ttl:
		return LookupStale
	}
	return LookupHit
}

// Put replaces the entry for entry.OverlayID as a whole
func (c *Cache) Put(ctx context.Context, entry *models.KeyframeCacheEntry) error {
	if !entry.Valid() {
		return ErrCorruptEntry
	}
	if err := c.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("failed to write keyframes for overlay %s: %w", entry.OverlayID, err)
	}
	return nil
}

// Delete drops the entry for overlayID
func (c *Cache) Delete(ctx context.Context, overlayID string) error {
	return c.store.Delete(ctx, overlayID)
}

// Close purges every entry; the cache must not be used afterwards
func (c *Cache) Close(ctx context.Context) error {
	return c.store.Purge(ctx)
}
