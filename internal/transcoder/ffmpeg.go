package transcoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNoVideoStream is returned when the probed media has no video stream
var ErrNoVideoStream = errors.New("no video stream found")

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath   string
	ffprobePath  string
	probeTimeout time.Duration
}

// NewFFmpeg creates a new FFmpeg instance. probeTimeout bounds every single
// ffprobe or ffmpeg invocation; zero means no bound beyond the caller's ctx.
func NewFFmpeg(ffmpegPath, ffprobePath string, probeTimeout time.Duration) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		probeTimeout: probeTimeout,
	}
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// VideoStream returns the first video stream
func (m *VideoMetadata) VideoStream() (*StreamInfo, error) {
	for i := range m.Streams {
		if m.Streams[i].CodecType == "video" {
			return &m.Streams[i], nil
		}
	}
	return nil, ErrNoVideoStream
}

// Duration returns the container duration in seconds, 0 if unknown
func (m *VideoMetadata) Duration() float64 {
	d, _ := strconv.ParseFloat(m.Format.Duration, 64)
	return d
}

// Rate parses the stream's rational frame rate such as "30000/1001"
func (s *StreamInfo) Rate() float64 {
	rate := s.AvgFrameRate
	if rate == "" || rate == "0/0" {
		rate = s.FrameRate
	}
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(rate, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

func (f *FFmpeg) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.probeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.probeTimeout)
}

// ProbeVideo extracts metadata from a local path or URL. Only the container
// header is read, so remote media is not downloaded in full.
func (f *FFmpeg) ProbeVideo(ctx context.Context, input string) (*VideoMetadata, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &metadata, nil
}

// Dimensions returns the pixel size of the first video stream
func (f *FFmpeg) Dimensions(ctx context.Context, url string) (int, int, error) {
	metadata, err := f.ProbeVideo(ctx, url)
	if err != nil {
		return 0, 0, err
	}
	stream, err := metadata.VideoStream()
	if err != nil {
		return 0, 0, err
	}
	return stream.Width, stream.Height, nil
}

// GrabFrame decodes the frame at atSeconds and returns it as a JPEG data URL
// scaled to the given height. Input seeking keeps remote reads small.
func (f *FFmpeg) GrabFrame(ctx context.Context, url string, atSeconds float64, height int) (string, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	args := []string{
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", atSeconds),
		"-i", url,
		"-frames:v", "1",
	}
	if height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", height))
	}
	args = append(args,
		"-q:v", "5",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to extract frame at %.3fs: %w, stderr: %s", atSeconds, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return "", fmt.Errorf("ffmpeg produced no frame at %.3fs", atSeconds)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(stdout.Bytes()), nil
}
