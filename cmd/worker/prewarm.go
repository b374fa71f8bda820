package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/therealutkarshpriyadarshi/composer/internal/keyframes"
	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/queue"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// prewarmLockTTL bounds how long a crashed worker can block a clip
const prewarmLockTTL = 2 * time.Minute

type locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

type prewarmHandler struct {
	extractor *keyframes.Extractor
	cacheFor  func(sessionID string) *keyframes.Cache
	locks     locker
	logger    *logging.Logger
}

func newPrewarmHandler(extractor *keyframes.Extractor, cacheFor func(string) *keyframes.Cache, locks locker, logger *logging.Logger) *prewarmHandler {
	return &prewarmHandler{
		extractor: extractor,
		cacheFor:  cacheFor,
		locks:     locks,
		logger:    logger,
	}
}

func lockResource(job *models.PrewarmJob) string {
	return "prewarm:" + job.CompositionID + ":" + strconv.Itoa(job.Overlay.ID)
}

// Handle extracts keyframes for one queued clip into the session's shared
// cache. A clip already being extracted by another worker is skipped.
func (h *prewarmHandler) Handle(ctx context.Context, job *models.PrewarmJob) error {
	logger := h.logger.WithCompositionID(job.CompositionID).WithOverlayID(job.Overlay.ID)

	resource := lockResource(job)
	acquired, err := h.locks.AcquireLock(ctx, resource, prewarmLockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		logger.Debug("Pre-warm already in progress, skipping")
		return nil
	}
	defer func() {
		if err := h.locks.ReleaseLock(context.Background(), resource); err != nil {
			logger.ErrorWithErr("Failed to release pre-warm lock", err)
		}
	}()

	extractor := h.extractor.ForSession(h.cacheFor(job.CompositionID), job.FPS)
	start := time.Now()
	result, err := extractor.Extract(ctx, job.Overlay, job.ViewportWidth, job.Zoom, nil)
	if err != nil {
		if errors.Is(err, keyframes.ErrNotVideo) || errors.Is(err, keyframes.ErrNoSource) {
			return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
		}
		return err
	}

	if result.Cached {
		logger.Debug("Keyframes already cached")
		return nil
	}
	logger.Infof("Pre-warmed %d/%d keyframes in %s", result.Succeeded, result.Planned, time.Since(start).Round(time.Millisecond))
	return nil
}
