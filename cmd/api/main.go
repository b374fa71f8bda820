package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/composer/internal/cache"
	"github.com/therealutkarshpriyadarshi/composer/internal/composition"
	"github.com/therealutkarshpriyadarshi/composer/internal/config"
	"github.com/therealutkarshpriyadarshi/composer/internal/keyframes"
	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/internal/middleware"
	"github.com/therealutkarshpriyadarshi/composer/internal/proxy"
	"github.com/therealutkarshpriyadarshi/composer/internal/queue"
	"github.com/therealutkarshpriyadarshi/composer/internal/render"
	"github.com/therealutkarshpriyadarshi/composer/internal/storage"
	"github.com/therealutkarshpriyadarshi/composer/internal/tracing"
	"github.com/therealutkarshpriyadarshi/composer/internal/transcoder"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	bootLogger, _ := logging.NewDefaultLogger()

	cfg, err := config.Load(configPath)
	if err != nil {
		bootLogger.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		bootLogger.Fatalf("Failed to initialize logger: %v", err)
	}
	gin.SetMode(gin.ReleaseMode)

	// Initialize tracing
	_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer closer.Close()

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
		logger.Infof("Metrics server listening on :%d", cfg.Metrics.Port)
	}

	api := &API{
		placer: composition.Placer{
			MaxRows:        cfg.Placement.MaxRows,
			TimelineFrames: cfg.Placement.TimelineFrames,
		},
		proxy: proxy.NewHandler(proxy.Config{
			AllowedHosts:    cfg.Proxy.AllowedHosts,
			CacheMaxAge:     cfg.Proxy.CacheMaxAge,
			UpstreamTimeout: cfg.Proxy.UpstreamTimeout,
		}, logger.WithField("component", "proxy")),
		logger: logger,
	}

	// Keyframe and render job stores live in Redis when configured so that
	// workers and restarts see the same state
	var jobs render.JobStore = render.NewMemoryJobStore(cfg.Render.JobTTL)
	var newCache composition.CacheFactory
	if cfg.Redis.Host != "" {
		redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()

		jobs = redisCache.RenderJobStore(cfg.Render.JobTTL)
		newCache = func(sessionID string) *keyframes.Cache {
			return keyframes.NewCache(redisCache.KeyframeStore(sessionID, cache.DefaultKeyframeRetention), cfg.Keyframes.CacheTTL)
		}
		api.redis = redisCache
		logger.Infof("Using Redis at %s:%d for keyframes and render jobs", cfg.Redis.Host, cfg.Redis.Port)
	} else {
		newCache = func(string) *keyframes.Cache {
			return keyframes.NewCache(keyframes.NewMemoryStore(), cfg.Keyframes.CacheTTL)
		}
	}

	api.sessions = composition.NewManager(composition.Settings{
		FPS:    cfg.Render.FPS,
		Width:  cfg.Render.Width,
		Height: cfg.Render.Height,
	}, newCache)

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath, cfg.Keyframes.ProbeTimeout)
	api.extractor = keyframes.NewExtractor(
		nil,
		ffmpeg,
		keyframes.NewHTTPProber(cfg.Keyframes.ProbeTimeout),
		keyframes.OptionsFromConfig(cfg.Keyframes, cfg.Render.FPS),
		logger.WithField("component", "keyframes"),
	)

	api.renders = render.NewOrchestrator(
		render.NewHTTPExecutor(cfg.Render.ExecutorURL, cfg.Render.ExecutorToken, cfg.Render.Timeout),
		jobs,
		logger.WithField("component", "render"),
	)

	// Initialize storage
	stor, err := storage.New(cfg.Storage, logger.WithField("component", "storage"))
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	api.storage = stor

	// Initialize queue
	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue, logger.WithField("component", "queue"))
		if err != nil {
			logger.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		api.prewarm = q
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Proxy.RateLimitRPS > 0 {
		api.limiter = middleware.NewRateLimiter(cfg.Proxy.RateLimitRPS, cfg.Proxy.RateLimitBurst)
		go api.limiter.Cleanup(ctx, 10*time.Minute, 30*time.Minute)
	}

	router := setupRouter(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if err := api.sessions.CloseAll(shutdownCtx); err != nil {
		logger.ErrorWithErr("Failed to close compositions", err)
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Server stopped")
}
