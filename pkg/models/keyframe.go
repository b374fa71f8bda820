package models

import (
	"strings"
	"time"
)

// KeyframeCacheEntry holds the committed timeline thumbnails of one clip.
// Frames and PreviewFrames are parallel and ordered by frame offset.
type KeyframeCacheEntry struct {
	OverlayID        string    `json:"overlayId"`
	Frames           []string  `json:"frames"`
	PreviewFrames    []int     `json:"previewFrames"`
	DurationInFrames int       `json:"durationInFrames"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// Valid reports whether the entry satisfies the cache integrity invariants
func (e *KeyframeCacheEntry) Valid() bool {
	if e == nil || len(e.Frames) != len(e.PreviewFrames) {
		return false
	}
	for i, frame := range e.Frames {
		if !IsImageDataURL(frame) {
			return false
		}
		if e.PreviewFrames[i] < 0 || e.PreviewFrames[i] >= e.DurationInFrames {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no slices with e
func (e *KeyframeCacheEntry) Clone() *KeyframeCacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Frames = append([]string(nil), e.Frames...)
	c.PreviewFrames = append([]int(nil), e.PreviewFrames...)
	return &c
}

const imageDataURLPrefix = "data:image/"

// IsImageDataURL checks that s is a non-empty base64 still-image data URL,
// e.g. "data:image/jpeg;base64,/9j/4AAQ..."
func IsImageDataURL(s string) bool {
	if !strings.HasPrefix(s, imageDataURLPrefix) {
		return false
	}
	rest := s[len(imageDataURLPrefix):]
	semi := strings.Index(rest, ";base64,")
	if semi <= 0 {
		return false
	}
	return len(rest) > semi+len(";base64,")
}

// PrewarmJob asks a worker to extract and cache the keyframes of one clip
// ahead of the timeline requesting them
type PrewarmJob struct {
	ID            string    `json:"id"`
	CompositionID string    `json:"compositionId"`
	Overlay       Overlay   `json:"overlay"`
	FPS           int       `json:"fps"`
	ViewportWidth float64   `json:"viewportWidth"`
	Zoom          float64   `json:"zoom"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}
