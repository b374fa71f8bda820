package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Transcoder TranscoderConfig
	Keyframes  KeyframesConfig
	Render     RenderConfig
	Proxy      ProxyConfig
	Placement  PlacementConfig
	Tracing    TracingConfig
	Metrics    MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// RedisConfig holds Redis configuration. An empty host keeps all
// caches in process memory.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration for render outputs
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	PresignExpiry   time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Prefetch int
}

// TranscoderConfig holds ffmpeg configuration
type TranscoderConfig struct {
	FFmpegPath  string
	FFprobePath string
}

// KeyframesConfig holds keyframe extraction configuration
type KeyframesConfig struct {
	CacheTTL        time.Duration
	BatchSize       int
	MinYieldPercent int
	MaxFailures     int
	ThumbnailHeight int
	DefaultWidth    int
	DefaultHeight   int
	ProbeTimeout    time.Duration
	Retry           RetryConfig
}

// RetryConfig holds the per-frame retry policy
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// RenderConfig holds the remote render executor configuration
type RenderConfig struct {
	ExecutorURL   string
	ExecutorToken string
	Timeout       time.Duration
	FPS           int
	Width         int
	Height        int
	JobTTL        time.Duration
}

// ProxyConfig holds media proxy configuration
type ProxyConfig struct {
	AllowedHosts    []string
	CacheMaxAge     time.Duration
	UpstreamTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int
}

// PlacementConfig holds timeline placement limits
type PlacementConfig struct {
	MaxRows        int
	TimelineFrames int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks values that would otherwise fail deep inside a request
func (c *Config) Validate() error {
	if c.Render.FPS <= 0 {
		return fmt.Errorf("render.fps must be positive, got %d", c.Render.FPS)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render dimensions must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	}
	if len(c.Proxy.AllowedHosts) == 0 {
		return fmt.Errorf("proxy.allowedHosts must not be empty")
	}
	if c.Keyframes.BatchSize <= 0 {
		return fmt.Errorf("keyframes.batchSize must be positive, got %d", c.Keyframes.BatchSize)
	}
	if c.Keyframes.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("keyframes.retry.maxAttempts must be positive, got %d", c.Keyframes.Retry.MaxAttempts)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "0s") // proxy streams long media bodies
	v.SetDefault("server.shutdownTimeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Redis defaults
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.presignExpiry", "1h")

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.prefetch", 2)

	// Transcoder defaults
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")

	// Keyframe defaults
	v.SetDefault("keyframes.cacheTTL", "300s")
	v.SetDefault("keyframes.batchSize", 3)
	v.SetDefault("keyframes.minYieldPercent", 70)
	v.SetDefault("keyframes.maxFailures", 10)
	v.SetDefault("keyframes.thumbnailHeight", 90)
	v.SetDefault("keyframes.defaultWidth", 1280)
	v.SetDefault("keyframes.defaultHeight", 720)
	v.SetDefault("keyframes.probeTimeout", "10s")
	v.SetDefault("keyframes.retry.maxAttempts", 5)
	v.SetDefault("keyframes.retry.baseDelay", "1000ms")
	v.SetDefault("keyframes.retry.backoffFactor", 1.5)
	v.SetDefault("keyframes.retry.maxDelay", "5000ms")

	// Render defaults
	v.SetDefault("render.executorURL", "http://localhost:3001")
	v.SetDefault("render.executorToken", "")
	v.SetDefault("render.timeout", "30s")
	v.SetDefault("render.fps", 30)
	v.SetDefault("render.width", 1920)
	v.SetDefault("render.height", 1080)
	v.SetDefault("render.jobTTL", "24h")

	// Proxy defaults
	v.SetDefault("proxy.allowedHosts", []string{"*.amazonaws.com", "*.cloudfront.net", "videos.pexels.com", "images.pexels.com"})
	v.SetDefault("proxy.cacheMaxAge", "8760h")
	v.SetDefault("proxy.upstreamTimeout", "60s")
	v.SetDefault("proxy.rateLimitRPS", 50)
	v.SetDefault("proxy.rateLimitBurst", 100)

	// Placement defaults
	v.SetDefault("placement.maxRows", 10)
	v.SetDefault("placement.timelineFrames", 0)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "composer")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}
