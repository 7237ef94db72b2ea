// Package video turns an uploaded video file into the ordered, fixed-length
// frame sequence a session is built on: ffprobe metadata, processing-fps
// computation, and ffmpeg frame extraction.
package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// AllowedExts is the upload extension allow-list.
var AllowedExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

// Metadata describes the source video stream.
type Metadata struct {
	Width       int
	Height      int
	FPS         float64
	DurationSec float64
}

// ParseFPS parses an ffprobe frame-rate value, either a plain number or a
// rational like "30000/1001". Unparseable input yields 0.
func ParseFPS(value string) float64 {
	if value == "" {
		return 0
	}
	if num, den, ok := strings.Cut(value, "/"); ok {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN != nil || errD != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on the video and returns its metadata. The reported FPS
// is floored at 1.
func Probe(ctx context.Context, videoPath string) (Metadata, error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,duration",
		"-show_entries", "format=duration",
		"-of", "json",
		videoPath,
	).Output()
	if err != nil {
		return Metadata{}, fmt.Errorf("video: ffprobe failed: %w", err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return Metadata{}, fmt.Errorf("video: ffprobe output: %w", err)
	}
	if len(probed.Streams) == 0 {
		return Metadata{}, fmt.Errorf("video: no video stream found")
	}
	stream := probed.Streams[0]

	fps := ParseFPS(stream.AvgFrameRate)
	if fps <= 0 {
		fps = ParseFPS(stream.RFrameRate)
	}
	if fps < 1 {
		fps = 1
	}

	durationRaw := stream.Duration
	if durationRaw == "" {
		durationRaw = probed.Format.Duration
	}
	duration, _ := strconv.ParseFloat(durationRaw, 64)

	if stream.Width <= 0 || stream.Height <= 0 || duration <= 0 {
		return Metadata{}, fmt.Errorf("video: could not parse valid video metadata")
	}
	return Metadata{
		Width:       stream.Width,
		Height:      stream.Height,
		FPS:         fps,
		DurationSec: duration,
	}, nil
}

// ProbeImageSize returns the pixel dimensions of a single frame image.
func ProbeImageSize(ctx context.Context, imagePath string) (width, height int, err error) {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		imagePath,
	).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("video: ffprobe failed for image: %w", err)
	}
	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return 0, 0, fmt.Errorf("video: ffprobe output: %w", err)
	}
	if len(probed.Streams) == 0 || probed.Streams[0].Width <= 0 || probed.Streams[0].Height <= 0 {
		return 0, 0, fmt.Errorf("video: could not parse valid frame dimensions")
	}
	return probed.Streams[0].Width, probed.Streams[0].Height, nil
}

// ComputeProcessingFPS picks the extraction rate: the source rate capped so
// at most maxFrames frames are produced, floored at 0.1.
func ComputeProcessingFPS(sourceFPS, durationSec float64, maxFrames int) float64 {
	if sourceFPS < 1 {
		sourceFPS = 1
	}
	upper := sourceFPS
	if durationSec > 0 {
		if limit := float64(maxFrames) / durationSec; limit < upper {
			upper = limit
		}
	}
	if upper < 0.1 {
		upper = 0.1
	}
	return upper
}

// ExtractFrames runs ffmpeg to decode the video into sequentially numbered
// JPEG frames ("000000.jpg", ...) at processingFPS, capped at maxFrames.
func ExtractFrames(ctx context.Context, videoPath, framesDir string, processingFPS float64, maxFrames int) error {
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return fmt.Errorf("video: create frames dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-loglevel", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%.6f", processingFPS),
		"-frames:v", strconv.Itoa(maxFrames),
		"-q:v", "2",
		"-start_number", "0",
		filepath.Join(framesDir, "%06d.jpg"),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("video: ffmpeg failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CountFrames returns the number of extracted frame images in framesDir.
func CountFrames(framesDir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(framesDir, "*.jpg"))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// FramePath returns the on-disk path of one extracted frame, or an error if
// the frame image does not exist.
func FramePath(framesDir string, frameIndex int) (string, error) {
	path := filepath.Join(framesDir, fmt.Sprintf("%06d.jpg", frameIndex))
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// Cleanup removes an upload file or an extracted frames directory. Missing
// paths are ignored.
func Cleanup(path string) {
	if path == "" {
		return
	}
	_ = os.RemoveAll(path)
}
