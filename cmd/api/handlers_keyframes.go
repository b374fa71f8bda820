package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/composer/internal/keyframes"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// defaultViewportWidth is assumed when the editor omits its timeline width
const defaultViewportWidth = 1200

type keyframesResponse struct {
	OverlayID        int       `json:"overlayId"`
	Frames           []string  `json:"frames"`
	PreviewFrames    []int     `json:"previewFrames"`
	DurationInFrames int       `json:"durationInFrames"`
	LastUpdated      time.Time `json:"lastUpdated"`
	Cached           bool      `json:"cached"`
	Planned          int       `json:"planned"`
	Succeeded        int       `json:"succeeded"`
	Width            int       `json:"width,omitempty"`
	Height           int       `json:"height,omitempty"`
}

// viewport reads viewportWidth and zoom, falling back to defaults
func viewport(c *gin.Context) (float64, float64, error) {
	width, zoom := float64(defaultViewportWidth), 1.0
	if raw := c.Query("viewportWidth"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("%w: viewportWidth must be a positive number", errInvalidViewport)
		}
		width = v
	}
	if raw := c.Query("zoom"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("%w: zoom must be a positive number", errInvalidViewport)
		}
		zoom = v
	}
	return width, zoom, nil
}

// getKeyframes returns timeline thumbnails for a clip, extracting them when
// the session cache has no fresh entry
// GET /api/v1/compositions/:id/overlays/:overlayId/keyframes
func (api *API) getKeyframes(c *gin.Context) {
	session, overlayID, ok := api.sessionAndOverlay(c)
	if !ok {
		return
	}

	width, zoom, err := viewport(c)
	if err != nil {
		api.respondError(c, err)
		return
	}

	overlay, err := session.Overlays.Get(overlayID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	extractor := api.extractor.ForSession(session.Keyframes, session.Settings.FPS)
	result, err := extractor.Extract(c.Request.Context(), overlay, width, zoom, nil)
	if err != nil {
		if errors.Is(err, keyframes.ErrInsufficientYield) && result != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":     err.Error(),
				"planned":   result.Planned,
				"succeeded": result.Succeeded,
				"failures":  result.Failures,
			})
			return
		}
		api.respondError(c, err)
		return
	}

	entry := result.Entry
	c.JSON(http.StatusOK, keyframesResponse{
		OverlayID:        overlayID,
		Frames:           entry.Frames,
		PreviewFrames:    entry.PreviewFrames,
		DurationInFrames: entry.DurationInFrames,
		LastUpdated:      entry.LastUpdated,
		Cached:           result.Cached,
		Planned:          result.Planned,
		Succeeded:        result.Succeeded,
		Width:            result.Width,
		Height:           result.Height,
	})
}

// prewarmKeyframes queues extraction for a clip so a later GET is served
// from cache
// POST /api/v1/compositions/:id/overlays/:overlayId/keyframes/prewarm
func (api *API) prewarmKeyframes(c *gin.Context) {
	session, overlayID, ok := api.sessionAndOverlay(c)
	if !ok {
		return
	}

	if api.prewarm == nil {
		api.respondError(c, errQueueDisabled)
		return
	}

	width, zoom, err := viewport(c)
	if err != nil {
		api.respondError(c, err)
		return
	}

	overlay, err := session.Overlays.Get(overlayID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	if !overlay.Type.IsVideo() {
		api.respondError(c, keyframes.ErrNotVideo)
		return
	}

	job := &models.PrewarmJob{
		ID:            uuid.New().String(),
		CompositionID: session.ID,
		Overlay:       overlay,
		FPS:           session.Settings.FPS,
		ViewportWidth: width,
		Zoom:          zoom,
		EnqueuedAt:    time.Now(),
	}
	if err := api.prewarm.PublishPrewarm(c.Request.Context(), job); err != nil {
		api.respondError(c, fmt.Errorf("failed to queue pre-warm job: %w", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":     job.ID,
		"overlayId": overlayID,
	})
}
