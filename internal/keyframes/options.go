package keyframes

import (
	"github.com/therealutkarshpriyadarshi/composer/internal/config"
	"github.com/therealutkarshpriyadarshi/composer/internal/retry"
)

// OptionsFromConfig maps the keyframes config section onto extractor
// options. Zero values keep their defaults in NewExtractor.
func OptionsFromConfig(cfg config.KeyframesConfig, fps int) Options {
	return Options{
		FPS:             fps,
		BatchSize:       cfg.BatchSize,
		MinYieldPercent: cfg.MinYieldPercent,
		MaxFailures:     cfg.MaxFailures,
		ThumbnailHeight: cfg.ThumbnailHeight,
		DefaultWidth:    cfg.DefaultWidth,
		DefaultHeight:   cfg.DefaultHeight,
		Retry: retry.Policy{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			BaseDelay:     cfg.Retry.BaseDelay,
			BackoffFactor: cfg.Retry.BackoffFactor,
			MaxDelay:      cfg.Retry.MaxDelay,
		},
	}
}
