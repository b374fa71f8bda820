package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/composer/internal/render"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// submitRender sends the session's overlays to the render executor
// POST /api/v1/compositions/:id/render
func (api *API) submitRender(c *gin.Context) {
	session, err := api.sessions.Get(c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	// An explicit duration pads the output past the last overlay
	var req struct {
		DurationInFrames int `json:"durationInFrames"`
	}
	if body, err := c.GetRawData(); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid render request: %v", err)})
			return
		}
	}

	duration := session.Overlays.DurationInFrames()
	if req.DurationInFrames > duration {
		duration = req.DurationInFrames
	}

	job, err := api.renders.Submit(c.Request.Context(), render.Composition{
		ID:               session.ID,
		Overlays:         session.Overlays.Overlays(),
		DurationInFrames: duration,
		FPS:              session.Settings.FPS,
		Width:            session.Settings.Width,
		Height:           session.Settings.Height,
	})
	if err != nil {
		if errors.Is(err, render.ErrSubmitRejected) && job != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error": job.ErrorMessage,
				"state": job.State,
			})
			return
		}
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

// renderProgress performs one progress check. Transport failures are
// answered with 200 and kind transport_error so the caller keeps polling.
// POST /api/v1/render/progress
func (api *API) renderProgress(c *gin.Context) {
	var handle models.RenderHandle
	if err := c.ShouldBindJSON(&handle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := api.renders.CheckProgress(c.Request.Context(), handle)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// downloadRender returns a presigned URL for a finished render
// GET /api/v1/render/:renderId/download
func (api *API) downloadRender(c *gin.Context) {
	if api.storage == nil {
		api.respondError(c, errNoStorage)
		return
	}

	renderID := c.Param("renderId")
	bucket := c.Query("bucketName")

	job, err := api.renders.Job(c.Request.Context(), renderID)
	if err != nil {
		api.respondError(c, err)
		return
	}
	if job != nil {
		if job.State != models.RenderStateDone {
			api.respondError(c, fmt.Errorf("%w: %s is %s", errRenderNotDone, renderID, job.State))
			return
		}
		if bucket == "" {
			bucket = job.BucketName
		}
	}
	if bucket == "" {
		api.respondError(c, errMissingBucket)
		return
	}

	obj, err := api.storage.StatRender(c.Request.Context(), bucket, renderID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	url, err := api.storage.PresignRenderDownload(c.Request.Context(), bucket, renderID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	// The output lives in storage from here on; repeat downloads pass bucketName
	if job != nil {
		if err := api.renders.Discard(c.Request.Context(), renderID); err != nil {
			api.logger.WithRenderID(renderID).WithError(err).Warn("Failed to discard render job")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"size":       obj.Size,
		"bucketName": bucket,
		"expiresAt":  time.Now().Add(api.storage.Expiry()),
	})
}
