package cache

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// DefaultKeyframeRetention bounds how long Redis keeps keyframe entries of a
// session that was never closed. Freshness is decided by the keyframe cache.
const DefaultKeyframeRetention = 24 * time.Hour

// KeyframeStore stores one session's keyframe entries in Redis
type KeyframeStore struct {
	cache     *Cache
	namespace string
	retention time.Duration
}

// KeyframeStore returns a store namespaced to a session id
func (c *Cache) KeyframeStore(namespace string, retention time.Duration) *KeyframeStore {
	if retention <= 0 {
		retention = DefaultKeyframeRetention
	}
	return &KeyframeStore{cache: c, namespace: namespace, retention: retention}
}

func (s *KeyframeStore) Get(ctx context.Context, overlayID string) (*models.KeyframeCacheEntry, error) {
	return s.cache.GetKeyframes(ctx, s.namespace, overlayID)
}

func (s *KeyframeStore) Put(ctx context.Context, entry *models.KeyframeCacheEntry) error {
	return s.cache.SetKeyframes(ctx, s.namespace, entry, s.retention)
}

func (s *KeyframeStore) Delete(ctx context.Context, overlayID string) error {
	return s.cache.DeleteKeyframes(ctx, s.namespace, overlayID)
}

func (s *KeyframeStore) Purge(ctx context.Context) error {
	return s.cache.PurgeKeyframes(ctx, s.namespace)
}

// RenderJobStore keeps render job state in Redis so any API replica can
// answer progress checks
type RenderJobStore struct {
	cache *Cache
	ttl   time.Duration
}

// RenderJobStore returns a job store whose entries expire after ttl
func (c *Cache) RenderJobStore(ttl time.Duration) *RenderJobStore {
	return &RenderJobStore{cache: c, ttl: ttl}
}

func (s *RenderJobStore) Save(ctx context.Context, job *models.RenderJob) error {
	return s.cache.SetRenderJob(ctx, job, s.ttl)
}

func (s *RenderJobStore) Get(ctx context.Context, renderID string) (*models.RenderJob, error) {
	return s.cache.GetRenderJob(ctx, renderID)
}

func (s *RenderJobStore) Delete(ctx context.Context, renderID string) error {
	return s.cache.DeleteRenderJob(ctx, renderID)
}
