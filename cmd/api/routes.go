package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/composer/internal/composition"
	"github.com/therealutkarshpriyadarshi/composer/internal/keyframes"
	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/middleware"
	"github.com/therealutkarshpriyadarshi/composer/internal/proxy"
	"github.com/therealutkarshpriyadarshi/composer/internal/render"
	"github.com/therealutkarshpriyadarshi/composer/internal/storage"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// downloadSigner resolves finished render outputs
type downloadSigner interface {
	StatRender(ctx context.Context, bucket, renderID string) (*storage.Object, error)
	PresignRenderDownload(ctx context.Context, bucket, renderID string) (string, error)
	Expiry() time.Duration
}

// prewarmPublisher hands keyframe jobs to workers
type prewarmPublisher interface {
	PublishPrewarm(ctx context.Context, job *models.PrewarmJob) error
}

// pinger is a dependency checked by /health
type pinger interface {
	Ping(ctx context.Context) error
}

// API holds the handler dependencies. storage, prewarm and redis are
// optional.
type API struct {
	sessions  *composition.Manager
	placer    composition.Placer
	extractor *keyframes.Extractor
	renders   *render.Orchestrator
	storage   downloadSigner
	prewarm   prewarmPublisher
	proxy     *proxy.Handler
	limiter   *middleware.RateLimiter
	redis     pinger
	logger    *logging.Logger
}

func setupRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(api.logger))

	// Health check
	router.GET("/health", api.healthCheck)

	// Media proxy
	if api.limiter != nil {
		api.proxy.Register(router, middleware.RateLimit(api.limiter))
	} else {
		api.proxy.Register(router)
	}

	v1 := router.Group("/api/v1")
	{
		// Compositions
		v1.POST("/compositions", api.createComposition)
		v1.GET("/compositions/:id", api.getComposition)
		v1.DELETE("/compositions/:id", api.deleteComposition)

		// Overlays
		v1.GET("/compositions/:id/overlays", api.listOverlays)
		v1.POST("/compositions/:id/overlays", api.addOverlay)
		v1.PATCH("/compositions/:id/overlays/:overlayId", api.changeOverlay)
		v1.DELETE("/compositions/:id/overlays/:overlayId", api.removeOverlay)
		v1.POST("/compositions/:id/placement", api.findPlacement)

		// Keyframes
		v1.GET("/compositions/:id/overlays/:overlayId/keyframes", api.getKeyframes)
		v1.POST("/compositions/:id/overlays/:overlayId/keyframes/prewarm", api.prewarmKeyframes)

		// Renders
		v1.POST("/compositions/:id/render", api.submitRender)
		v1.POST("/render/progress", api.renderProgress)
		v1.GET("/render/:renderId/download", api.downloadRender)
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if api.redis != nil {
		if err := api.redis.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"compositions": api.sessions.Len(),
	})
}
