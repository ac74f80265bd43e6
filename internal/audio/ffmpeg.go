package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/maauso/media-ingest/internal/media"
)

// Static errors for audio compression.
var (
	// ErrRunnerRequired is returned when no ffmpeg runner is configured.
	ErrRunnerRequired = errors.New("audio: ffmpeg runner is required")
	// ErrEmptyOutput is returned when ffmpeg succeeds but writes nothing.
	ErrEmptyOutput = errors.New("audio: compressed output is empty")
)

// Compile-time check that FFmpegCompressor implements Compressor.
var _ Compressor = (*FFmpegCompressor)(nil)

// FFmpegCompressor implements Compressor using the ffmpeg CLI.
type FFmpegCompressor struct {
	runner media.Runner
}

// NewFFmpegCompressor creates a new FFmpegCompressor backed by runner.
func NewFFmpegCompressor(runner media.Runner) *FFmpegCompressor {
	return &FFmpegCompressor{runner: runner}
}

// Compress re-encodes src to AAC in an MP4 container.
func (c *FFmpegCompressor) Compress(ctx context.Context, src, dst string, opts CompressOpts) error {
	if c.runner == nil {
		return ErrRunnerRequired
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("input file does not exist: %w", err)
	}

	if opts.Bitrate == "" {
		opts.Bitrate = DefaultCompressOpts().Bitrate
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultCompressOpts().SampleRate
	}

	args := []string{
		"-y",
		"-i", src,
		// Drop embedded cover art and video streams.
		"-vn",
		"-c:a", "aac",
		"-b:a", opts.Bitrate,
		"-ar", strconv.Itoa(opts.SampleRate),
		// Playable while downloading.
		"-movflags", "+faststart",
		dst,
	}

	if err := c.runner.RunFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("compress audio: %w", err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("stat compressed audio: %w", err)
	}
	if info.Size() == 0 {
		return ErrEmptyOutput
	}

	return nil
}
