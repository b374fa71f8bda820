package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/composer/internal/cache"
	"github.com/therealutkarshpriyadarshi/composer/internal/config"
	"github.com/therealutkarshpriyadarshi/composer/internal/keyframes"
	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/internal/queue"
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

	baseLogger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		bootLogger.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := baseLogger.WithWorkerID(uuid.New().String())

	// Pre-warmed entries are only useful if the API reads the same store
	if cfg.Redis.Host == "" {
		logger.Fatalf("Worker requires redis.host so the API can read pre-warmed keyframes")
	}
	if !cfg.Queue.Enabled {
		logger.Fatalf("Worker requires queue.enabled")
	}

	_, closer, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName+"-worker", cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer closer.Close()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisCache.Close()

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger.WithField("component", "queue"))
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath, cfg.Keyframes.ProbeTimeout)
	extractor := keyframes.NewExtractor(
		nil,
		ffmpeg,
		keyframes.NewHTTPProber(cfg.Keyframes.ProbeTimeout),
		keyframes.OptionsFromConfig(cfg.Keyframes, cfg.Render.FPS),
		logger.WithField("component", "keyframes"),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	handler := newPrewarmHandler(extractor, func(sessionID string) *keyframes.Cache {
		return keyframes.NewCache(redisCache.KeyframeStore(sessionID, cache.DefaultKeyframeRetention), cfg.Keyframes.CacheTTL)
	}, redisCache, logger)

	if cfg.Metrics.Enabled {
		go q.ReportDepth(ctx, 30*time.Second)
	}

	logger.Info("Worker started, waiting for pre-warm jobs...")
	if err := q.ConsumePrewarm(ctx, cfg.Queue.Prefetch, handler.Handle); err != nil {
		logger.Fatalf("Failed to consume jobs: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}
