package keyframes

import (
	"context"
	"sync"

	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// Store persists keyframe cache entries. Get returns nil, nil on a miss.
// Implementations replace entries as a unit and never hand out shared slices.
type Store interface {
	Get(ctx context.Context, overlayID string) (*models.KeyframeCacheEntry, error)
	Put(ctx context.Context, entry *models.KeyframeCacheEntry) error
	Delete(ctx context.Context, overlayID string) error
	Purge(ctx context.Context) error
}

// MemoryStore keeps entries in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*models.KeyframeCacheEntry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*models.KeyframeCacheEntry)}
}

func (s *MemoryStore) Get(_ context.Context, overlayID string) (*models.KeyframeCacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[overlayID].Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, entry *models.KeyframeCacheEntry) error {
	c := entry.Clone()
	s.mu.Lock()
	s.entries[c.OverlayID] = c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, overlayID string) error {
	s.mu.Lock()
	delete(s.entries, overlayID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Purge(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]*models.KeyframeCacheEntry)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
