package render

import (
	"context"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// DefaultJobTTL is how long a job is kept after its last update
const DefaultJobTTL = 24 * time.Hour

// JobStore keeps render jobs between progress checks. Get returns nil, nil
// for unknown ids.
type JobStore interface {
	Save(ctx context.Context, job *models.RenderJob) error
	Get(ctx context.Context, renderID string) (*models.RenderJob, error)
	Delete(ctx context.Context, renderID string) error
}

type storedJob struct {
	job       models.RenderJob
	expiresAt time.Time
}

// MemoryJobStore keeps jobs in process memory. Entries expire ttl after
// their last Save, matching the Redis store.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]storedJob
	ttl  time.Duration
	now  func() time.Time
}

// NewMemoryJobStore creates an empty store
func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &MemoryJobStore{
		jobs: make(map[string]storedJob),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Save stores the job and drops expired entries
func (s *MemoryJobStore) Save(_ context.Context, job *models.RenderJob) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, stored := range s.jobs {
		if !now.Before(stored.expiresAt) {
			delete(s.jobs, id)
		}
	}
	s.jobs[job.RenderID] = storedJob{job: *job, expiresAt: now.Add(s.ttl)}
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, renderID string) (*models.RenderJob, error) {
	s.mu.RLock()
	stored, ok := s.jobs[renderID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !s.now().Before(stored.expiresAt) {
		return nil, s.Delete(ctx, renderID)
	}
	job := stored.job
	return &job, nil
}

func (s *MemoryJobStore) Delete(_ context.Context, renderID string) error {
	s.mu.Lock()
	delete(s.jobs, renderID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored jobs, expired ones included
func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
