// Package keyframes extracts timeline preview thumbnails from video overlays
// and caches them per overlay.
package keyframes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/internal/retry"
	"github.com/therealutkarshpriyadarshi/composer/internal/tracing"
	"github.com/therealutkarshpriyadarshi/composer/internal/urlresolve"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

var (
	// ErrNotVideo is returned for overlays that are not clips
	ErrNotVideo = errors.New("keyframes are only extracted for video overlays")
	// ErrNoSource is returned when a clip has no media URL
	ErrNoSource = errors.New("overlay has no media source")
	// ErrMediaUnreachable is returned when the origin fails the reachability probe
	ErrMediaUnreachable = errors.New("media unreachable")
	// ErrInsufficientYield is returned when too few frames were extracted to commit
	ErrInsufficientYield = errors.New("too few keyframes extracted")

	errErrorCeiling = errors.New("keyframe error ceiling reached")
	errBadPayload   = errors.New("frame grabber returned a malformed image payload")
)

// FrameGrabber decodes still frames from remote media
type FrameGrabber interface {
	// Dimensions returns the pixel size of the first video stream
	Dimensions(ctx context.Context, url string) (width, height int, err error)
	// GrabFrame returns the frame at atSeconds as an image data URL scaled to height
	GrabFrame(ctx context.Context, url string, atSeconds float64, height int) (string, error)
}

// Prober checks that a media URL is reachable
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Options tune a single extraction
type Options struct {
	FPS             int
	BatchSize       int
	MinYieldPercent int
	MaxFailures     int
	ThumbnailHeight int
	DefaultWidth    int
	DefaultHeight   int
	Retry           retry.Policy
}

// DefaultOptions returns the standard extraction settings
func DefaultOptions() Options {
	return Options{
		FPS:             30,
		BatchSize:       3,
		MinYieldPercent: 70,
		MaxFailures:     10,
		ThumbnailHeight: 90,
		DefaultWidth:    1280,
		DefaultHeight:   720,
		Retry:           retry.DefaultPolicy,
	}
}

// Frame is one extracted thumbnail
type Frame struct {
	Offset int    `json:"offset"`
	Data   string `json:"data"`
}

// FrameFunc receives frames as they are extracted. Calls are serialized.
type FrameFunc func(Frame)

// Result describes one extraction. Frames is the in-flight buffer in
// completion order; Entry is the committed (or cached) entry, if any.
type Result struct {
	Entry     *models.KeyframeCacheEntry
	Frames    []Frame
	Planned   int
	Succeeded int
	Failures  int
	Width     int
	Height    int
	Cached    bool
	Committed bool
}

// buffer is the append-only list of frames extracted so far
type buffer struct {
	mu     sync.Mutex
	frames []Frame
}

func (b *buffer) append(f Frame, onFrame FrameFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, f)
	if onFrame != nil {
		onFrame(f)
	}
}

func (b *buffer) snapshot() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Frame(nil), b.frames...)
}

// Extractor turns video overlays into cached keyframe entries
type Extractor struct {
	cache   *Cache
	grabber FrameGrabber
	prober  Prober
	opts    Options
	logger  *logging.Logger
}

// NewExtractor creates an extractor writing to cache
func NewExtractor(cache *Cache, grabber FrameGrabber, prober Prober, opts Options, logger *logging.Logger) *Extractor {
	defaults := DefaultOptions()
	if opts.FPS <= 0 {
		opts.FPS = defaults.FPS
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.MinYieldPercent <= 0 {
		opts.MinYieldPercent = defaults.MinYieldPercent
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaults.MaxFailures
	}
	if opts.ThumbnailHeight <= 0 {
		opts.ThumbnailHeight = defaults.ThumbnailHeight
	}
	if opts.DefaultWidth <= 0 || opts.DefaultHeight <= 0 {
		opts.DefaultWidth, opts.DefaultHeight = defaults.DefaultWidth, defaults.DefaultHeight
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = defaults.Retry
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Extractor{
		cache:   cache,
		grabber: grabber,
		prober:  prober,
		opts:    opts,
		logger:  logger,
	}
}

// ForSession returns a copy of e bound to a session's cache and frame rate
func (e *Extractor) ForSession(cache *Cache, fps int) *Extractor {
	c := *e
	c.cache = cache
	if fps > 0 {
		c.opts.FPS = fps
	}
	return &c
}

// Options returns the effective options
func (e *Extractor) Options() Options {
	return e.opts
}

// Extract returns keyframes for a video overlay, from cache when a fresh entry
// exists, otherwise by probing and decoding the origin media. A new entry is
// committed only when enough frames were extracted; on ErrInsufficientYield
// the returned Result still carries the partial frames.
func (e *Extractor) Extract(ctx context.Context, overlay models.Overlay, viewportWidthPx, zoomScale float64, onFrame FrameFunc) (result *Result, err error) {
	span, ctx := tracing.StartSpan(ctx, "keyframes.extract")
	tracing.SetTag(span, "overlay.id", overlay.ID)
	defer func() { tracing.FinishSpan(span, err) }()

	if !overlay.Type.IsVideo() {
		return nil, ErrNotVideo
	}

	overlayID := strconv.Itoa(overlay.ID)
	logger := e.logger.WithOverlayID(overlay.ID)

	cached, lookup, err := e.cache.Fresh(ctx, overlayID, overlay.DurationInFrames)
	if err != nil {
		logger.WithError(err).Warn("Keyframe cache lookup failed, extracting")
	}
	tracing.SetTag(span, "cache.lookup", lookup)
	if cached != nil {
		return &Result{
			Entry:     cached,
			Planned:   len(cached.Frames),
			Succeeded: len(cached.Frames),
			Cached:    true,
		}, nil
	}

	source := urlresolve.ToOriginURL(overlay.Src)
	if source == "" {
		return nil, ErrNoSource
	}

	start := time.Now()
	if err := e.prober.Probe(ctx, source); err != nil {
		metrics.RecordKeyframeExtraction("unreachable", 0, 0, time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %w", ErrMediaUnreachable, err)
	}

	width, height := e.dimensions(ctx, source, logger)
	offsets := FrameOffsets(overlay.DurationInFrames, FrameCount(viewportWidthPx, zoomScale))
	tracing.SetTag(span, "frames.planned", len(offsets))

	buf := &buffer{}
	failures := e.extractAll(ctx, overlay, source, offsets, buf, onFrame, logger)

	frames := buf.snapshot()
	result = &Result{
		Frames:    frames,
		Planned:   len(offsets),
		Succeeded: len(frames),
		Failures:  failures,
		Width:     width,
		Height:    height,
	}

	if !meetsYield(len(frames), len(offsets), e.opts.MinYieldPercent) {
		metrics.RecordKeyframeExtraction("insufficient_yield", len(offsets), len(frames), time.Since(start).Seconds())
		logger.Warnf("Extracted %d of %d keyframes after %d failures, keeping previous entry", len(frames), len(offsets), failures)
		return result, fmt.Errorf("%w: %d of %d", ErrInsufficientYield, len(frames), len(offsets))
	}

	entry := newEntry(overlayID, overlay.DurationInFrames, frames, time.Now())
	if err := e.cache.Put(ctx, entry); err != nil {
		metrics.RecordKeyframeExtraction("commit_failed", len(offsets), len(frames), time.Since(start).Seconds())
		return result, err
	}

	result.Entry = entry
	result.Committed = true
	metrics.RecordKeyframeExtraction("committed", len(offsets), len(frames), time.Since(start).Seconds())
	logger.Infof("Committed %d of %d keyframes in %s", len(frames), len(offsets), time.Since(start))
	return result, nil
}

// dimensions never fails; media that cannot be probed is assumed to be the
// default size since only thumbnail scale depends on it.
func (e *Extractor) dimensions(ctx context.Context, source string, logger *logging.Logger) (int, int) {
	width, height, err := e.grabber.Dimensions(ctx, source)
	if err != nil || width <= 0 || height <= 0 {
		if err != nil {
			logger.WithError(err).Debug("Dimension probe failed, using defaults")
		}
		return e.opts.DefaultWidth, e.opts.DefaultHeight
	}
	return width, height
}

// extractAll runs offsets in batches and returns the number of failed attempts.
// Once the failure ceiling is reached no new attempts are started.
func (e *Extractor) extractAll(ctx context.Context, overlay models.Overlay, source string, offsets []int, buf *buffer, onFrame FrameFunc, logger *logging.Logger) int {
	var (
		mu       sync.Mutex
		failures int
	)
	exhausted := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures >= e.opts.MaxFailures
	}

	for batch, first := 0, 0; first < len(offsets); batch, first = batch+1, first+e.opts.BatchSize {
		if exhausted() || ctx.Err() != nil {
			break
		}

		batchStart := time.Now()
		last := min(first+e.opts.BatchSize, len(offsets))

		var (
			wg                sync.WaitGroup
			okCount, badCount int
			countMu           sync.Mutex
		)
		for _, offset := range offsets[first:last] {
			wg.Add(1)
			go func(offset int) {
				defer wg.Done()

				at := FrameTime(overlay.VideoStartTime, offset, e.opts.FPS, overlay.PlaybackRate())
				data, err := retry.Do(ctx, e.opts.Retry, func(ctx context.Context, attempt int) (string, error) {
					if exhausted() {
						return "", retry.Permanent(errErrorCeiling)
					}
					data, err := e.grab(ctx, source, at)
					metrics.RecordKeyframeAttempt(err == nil)
					if err == nil {
						return data, nil
					}

					mu.Lock()
					failures++
					reached := failures >= e.opts.MaxFailures
					mu.Unlock()
					if reached {
						return "", retry.Permanent(err)
					}
					return "", err
				}, func(attempt int, err error, wait time.Duration) {
					logger.WithError(err).Debugf("Frame at offset %d failed (attempt %d), retrying in %s", offset, attempt, wait)
				})

				countMu.Lock()
				if err != nil {
					badCount++
				} else {
					okCount++
				}
				countMu.Unlock()

				if err == nil {
					buf.append(Frame{Offset: offset, Data: data}, onFrame)
				}
			}(offset)
		}
		wg.Wait()

		logger.LogKeyframeBatch(overlay.ID, batch, okCount, badCount, time.Since(batchStart))
	}

	mu.Lock()
	defer mu.Unlock()
	return failures
}

func (e *Extractor) grab(ctx context.Context, source string, atSeconds float64) (string, error) {
	data, err := e.grabber.GrabFrame(ctx, source, atSeconds, e.opts.ThumbnailHeight)
	if err != nil {
		return "", err
	}
	if !models.IsImageDataURL(data) {
		return "", errBadPayload
	}
	return data, nil
}

func meetsYield(succeeded, planned, minPercent int) bool {
	if planned == 0 {
		return false
	}
	return succeeded*100 >= planned*minPercent
}

// newEntry orders frames by offset for the committed entry
func newEntry(overlayID string, durationInFrames int, frames []Frame, now time.Time) *models.KeyframeCacheEntry {
	sorted := append([]Frame(nil), frames...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	entry := &models.KeyframeCacheEntry{
		OverlayID:        overlayID,
		Frames:           make([]string, len(sorted)),
		PreviewFrames:    make([]int, len(sorted)),
		DurationInFrames: durationInFrames,
		LastUpdated:      now,
	}
	for i, f := range sorted {
		entry.Frames[i] = f.Data
		entry.PreviewFrames[i] = f.Offset
	}
	return entry
}
