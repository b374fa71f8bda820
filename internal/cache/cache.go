package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Keyframe Cache Operations

func keyframeKey(namespace, overlayID string) string {
	return fmt.Sprintf("keyframes:%s:%s", namespace, overlayID)
}

// SetKeyframes stores a keyframe entry under a session namespace
func (c *Cache) SetKeyframes(ctx context.Context, namespace string, entry *models.KeyframeCacheEntry, ttl time.Duration) error {
	return c.SetWithJSON(ctx, keyframeKey(namespace, entry.OverlayID), entry, ttl)
}

// GetKeyframes retrieves a keyframe entry, nil on miss
func (c *Cache) GetKeyframes(ctx context.Context, namespace, overlayID string) (*models.KeyframeCacheEntry, error) {
	var entry models.KeyframeCacheEntry
	found, err := c.GetWithJSON(ctx, keyframeKey(namespace, overlayID), &entry)
	metrics.RecordCacheAccess("keyframes", found)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

// DeleteKeyframes removes one keyframe entry
func (c *Cache) DeleteKeyframes(ctx context.Context, namespace, overlayID string) error {
	return c.client.Del(ctx, keyframeKey(namespace, overlayID)).Err()
}

// PurgeKeyframes removes every keyframe entry of a namespace
func (c *Cache) PurgeKeyframes(ctx context.Context, namespace string) error {
	return c.DeletePattern(ctx, keyframeKey(namespace, "*"))
}

// Render Job Cache Operations

func renderJobKey(renderID string) string {
	return fmt.Sprintf("render:%s", renderID)
}

// SetRenderJob caches render job state
func (c *Cache) SetRenderJob(ctx context.Context, job *models.RenderJob, ttl time.Duration) error {
	return c.SetWithJSON(ctx, renderJobKey(job.RenderID), job, ttl)
}

// GetRenderJob retrieves render job state, nil on miss
func (c *Cache) GetRenderJob(ctx context.Context, renderID string) (*models.RenderJob, error) {
	var job models.RenderJob
	found, err := c.GetWithJSON(ctx, renderJobKey(renderID), &job)
	metrics.RecordCacheAccess("render_jobs", found)
	if err != nil || !found {
		return nil, err
	}
	return &job, nil
}

// DeleteRenderJob removes render job state
func (c *Cache) DeleteRenderJob(ctx context.Context, renderID string) error {
	return c.client.Del(ctx, renderJobKey(renderID)).Err()
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Batch Operations

// DeletePattern deletes all keys matching a pattern
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON decodes the value at key into dest and reports whether it existed
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return true, nil
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
