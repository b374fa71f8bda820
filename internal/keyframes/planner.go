package keyframes

import "math"

// Frame planning bounds
const (
	MinFrames      = 5
	MaxFrames      = 30
	PixelsPerFrame = 150
)

// FrameCount returns how many thumbnails fill a viewport of the given width at
// the given zoom: clamp(ceil(width / (150 * zoom)), 5, 30).
func FrameCount(viewportWidthPx, zoomScale float64) int {
	if zoomScale <= 0 {
		zoomScale = 1
	}
	if viewportWidthPx <= 0 {
		return MinFrames
	}

	n := int(math.Ceil(viewportWidthPx / (PixelsPerFrame * zoomScale)))
	if n < MinFrames {
		return MinFrames
	}
	if n > MaxFrames {
		return MaxFrames
	}
	return n
}

// FrameOffsets spaces count offsets evenly over [0, durationInFrames) with
// interval max(1, floor(duration/count)). Clips shorter than count frames get
// one offset per frame.
func FrameOffsets(durationInFrames, count int) []int {
	if durationInFrames <= 0 || count <= 0 {
		return nil
	}

	interval := durationInFrames / count
	if interval < 1 {
		interval = 1
	}

	offsets := make([]int, 0, count)
	for i := 0; i < count; i++ {
		offset := i * interval
		if offset >= durationInFrames {
			break
		}
		offsets = append(offsets, offset)
	}
	return offsets
}

// FrameTime maps a frame offset within the overlay to a position in the source
// media, in seconds.
func FrameTime(videoStartTime float64, offset, fps int, playbackRate float64) float64 {
	if fps <= 0 {
		fps = 30
	}
	if playbackRate <= 0 {
		playbackRate = 1
	}
	return videoStartTime + float64(offset)/float64(fps)*playbackRate
}
