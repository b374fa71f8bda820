package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

func TestMemoryJobStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryJobStore(time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, &models.RenderJob{RenderID: "r-1", State: models.RenderStateDone}))

	job, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	now = now.Add(time.Minute)
	job, err = s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Zero(t, s.Len())
}

func TestMemoryJobStoreSavePrunesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryJobStore(time.Minute)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, &models.RenderJob{RenderID: "r-1", State: models.RenderStateError}))
	require.NoError(t, s.Save(ctx, &models.RenderJob{RenderID: "r-2", State: models.RenderStatePolling}))

	// Saving refreshes the entry's expiry
	now = now.Add(45 * time.Second)
	require.NoError(t, s.Save(ctx, &models.RenderJob{RenderID: "r-2", State: models.RenderStatePolling}))

	now = now.Add(30 * time.Second)
	require.NoError(t, s.Save(ctx, &models.RenderJob{RenderID: "r-3", State: models.RenderStatePolling}))
	assert.Equal(t, 2, s.Len())

	job, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = s.Get(ctx, "r-2")
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestMemoryJobStoreDefaultTTL(t *testing.T) {
	s := NewMemoryJobStore(0)
	assert.Equal(t, DefaultJobTTL, s.ttl)
}
