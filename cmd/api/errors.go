package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/composer/internal/composition"
	"github.com/therealutkarshpriyadarshi/composer/internal/keyframes"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/internal/middleware"
	"github.com/therealutkarshpriyadarshi/composer/internal/render"
	"github.com/therealutkarshpriyadarshi/composer/internal/storage"
)

var (
	errQueueDisabled   = errors.New("keyframe pre-warm queue is not configured")
	errRenderNotDone   = errors.New("render has not finished")
	errNoStorage       = errors.New("object storage is not configured")
	errMissingBucket   = errors.New("bucketName is required for unknown renders")
	errInvalidOverlay  = errors.New("overlayId must be a positive integer")
	errInvalidViewport = errors.New("invalid viewport")
)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, composition.ErrSessionNotFound),
		errors.Is(err, composition.ErrOverlayNotFound),
		errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, composition.ErrImmutableField),
		errors.Is(err, composition.ErrDuplicateOverlay),
		errors.Is(err, errRenderNotDone):
		return http.StatusConflict
	case errors.Is(err, composition.ErrInvalidOverlay),
		errors.Is(err, composition.ErrInvalidDuration),
		errors.Is(err, keyframes.ErrNotVideo),
		errors.Is(err, keyframes.ErrNoSource),
		errors.Is(err, render.ErrInvalidComposition),
		errors.Is(err, render.ErrInvalidHandle),
		errors.Is(err, errMissingBucket),
		errors.Is(err, errInvalidOverlay),
		errors.Is(err, errInvalidViewport):
		return http.StatusBadRequest
	case errors.Is(err, render.ErrSubmitRejected),
		errors.Is(err, keyframes.ErrInsufficientYield):
		return http.StatusBadGateway
	case errors.Is(err, keyframes.ErrMediaUnreachable),
		errors.Is(err, errQueueDisabled),
		errors.Is(err, errNoStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status
func (api *API) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		metrics.RecordError("api", http.StatusText(status))
		api.logger.WithRequestID(middleware.GetRequestID(c)).WithError(err).Errorf("%s %s failed", c.Request.Method, c.FullPath())
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
