// Package ffmpeg extracts still frames and audio from video payloads by
// shelling out to ffmpeg and ffprobe.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"analysis-pipeline/internal/failure"
)

// endGuard keeps frame seeks off the exact end of the stream, where ffmpeg
// returns no picture.
const endGuard = 0.1

type Extractor struct {
	ffmpeg  string
	ffprobe string
	tempDir string
	log     zerolog.Logger
}

func New(ffmpegBin, ffprobeBin string, log zerolog.Logger) *Extractor {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &Extractor{
		ffmpeg:  ffmpegBin,
		ffprobe: ffprobeBin,
		tempDir: os.TempDir(),
		log:     log.With().Str("component", "ffmpeg").Logger(),
	}
}

// FrameTimestamps spreads count seek positions evenly over duration seconds.
// Each position sits in the middle of its slice and never reaches the end.
func FrameTimestamps(duration float64, count int) []float64 {
	if count <= 0 {
		return nil
	}
	if duration <= 0 {
		return []float64{0}
	}
	limit := duration - endGuard
	if limit < 0 {
		limit = 0
	}
	out := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		ts := duration * (float64(i) + 0.5) / float64(count)
		if ts > limit {
			ts = limit
		}
		out = append(out, ts)
	}
	return out
}

// ExtractFrames returns up to count JPEG frames.
func (e *Extractor) ExtractFrames(ctx context.Context, video []byte, count int) ([][]byte, error) {
	src, cleanup, err := e.spill(video)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	duration, err := e.readDuration(ctx, src)
	if err != nil {
		return nil, err
	}

	var frames [][]byte
	for i, ts := range FrameTimestamps(duration, count) {
		args := []string{
			"-hide_banner",
			"-loglevel", "error",
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", src,
			"-frames:v", "1",
			"-f", "image2",
			"-c:v", "mjpeg",
			"pipe:1",
		}
		out, err := e.run(ctx, e.ffmpeg, args...)
		if err != nil {
			return nil, failure.Mark(failure.ErrProcessing, fmt.Sprintf("extract frame %d at %.3fs", i, ts), err)
		}
		frames = append(frames, out)
	}
	e.log.Debug().Float64("duration", duration).Int("frames", len(frames)).Msg("frames extracted")
	return frames, nil
}

// ExtractAudio returns the first maxSeconds of audio as mono 16kHz WAV.
func (e *Extractor) ExtractAudio(ctx context.Context, video []byte, maxSeconds int) ([]byte, error) {
	src, cleanup, err := e.spill(video)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-t", strconv.Itoa(maxSeconds),
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	}
	out, err := e.run(ctx, e.ffmpeg, args...)
	if err != nil {
		return nil, failure.Mark(failure.ErrProcessing, "extract audio", err)
	}
	return out, nil
}

func (e *Extractor) readDuration(ctx context.Context, src string) (float64, error) {
	out, err := e.run(ctx, e.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		src,
	)
	if err != nil {
		return 0, failure.Mark(failure.ErrProcessing, "read duration", err)
	}
	return ParseDuration(string(out))
}

// ParseDuration reads ffprobe's duration output. "N/A" reads as zero.
func ParseDuration(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, failure.Mark(failure.ErrProcessing, "parse duration "+s, err)
	}
	return d, nil
}

// spill writes the payload to a temp file so ffmpeg can seek in it.
func (e *Extractor) spill(video []byte) (string, func(), error) {
	if len(video) == 0 {
		return "", nil, failure.Mark(failure.ErrValidation, "empty video payload", nil)
	}
	dir, err := os.MkdirTemp(e.tempDir, "media-*")
	if err != nil {
		return "", nil, failure.Mark(failure.ErrProcessing, "create temp dir", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	src := filepath.Join(dir, "input")
	if err := os.WriteFile(src, video, 0o600); err != nil {
		cleanup()
		return "", nil, failure.Mark(failure.ErrProcessing, "write temp video", err)
	}
	return src, cleanup, nil
}

func (e *Extractor) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
