// Package transform prepares validated media for upload: images are resized
// and recompressed, audio is recompressed unless already small, and long
// video is handed off to an external trim step.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maauso/media-ingest/internal/audio"
	"github.com/maauso/media-ingest/internal/media"
)

// Static errors for transformation.
var (
	// ErrTransformFailed is returned when a mandatory transformation fails.
	ErrTransformFailed = errors.New("transform: media transformation failed")
	// ErrNoResizer is returned when an image arrives and no resizer is configured.
	ErrNoResizer = errors.New("transform: image resizer is not configured")
)

// Outcome describes what a transformation produced.
type Outcome string

const (
	// OutcomeTransformed means Result.Asset is ready for upload. It may be the
	// original asset when no work was needed.
	OutcomeTransformed Outcome = "TRANSFORMED"
	// OutcomeRequiresExternalStep means the user must supply a replacement
	// (for example a trimmed video) before the pipeline can continue.
	OutcomeRequiresExternalStep Outcome = "REQUIRES_EXTERNAL_STEP"
	// OutcomeFallbackToOriginal means an optional transformation failed and
	// the original asset is used instead.
	OutcomeFallbackToOriginal Outcome = "FALLBACK_TO_ORIGINAL"
)

// Result is the outcome of a transformation and the asset to continue with.
type Result struct {
	Outcome Outcome
	Asset   media.Asset
}

// Registrar receives every temp path the transformer creates.
// janitor.Janitor satisfies it.
type Registrar interface {
	Register(path string)
}

// Options holds the quality targets applied by the Transformer.
type Options struct {
	// MaxImageDimension bounds the longest image edge in pixels.
	MaxImageDimension int
	// ImageQuality is the JPEG quality (1-100).
	ImageQuality int
	// Audio configures audio recompression.
	Audio audio.CompressOpts
	// VideoTrimLimit is the longest video uploaded without an external trim.
	VideoTrimLimit time.Duration
}

// DefaultOptions returns the default transformation targets.
func DefaultOptions() Options {
	return Options{
		MaxImageDimension: 1600,
		ImageQuality:      80,
		Audio:             audio.DefaultCompressOpts(),
		VideoTrimLimit:    60 * time.Second,
	}
}

// Transformer applies per-kind transformations.
type Transformer struct {
	images  media.ImageResizer
	audio   audio.Compressor
	tempDir string
	opts    Options
	logger  *slog.Logger
}

// NewTransformer creates a Transformer writing its outputs under tempDir.
// Zero-valued fields in opts take their defaults.
func NewTransformer(images media.ImageResizer, compressor audio.Compressor, tempDir string, opts Options, logger *slog.Logger) *Transformer {
	def := DefaultOptions()
	if opts.MaxImageDimension <= 0 {
		opts.MaxImageDimension = def.MaxImageDimension
	}
	if opts.ImageQuality <= 0 || opts.ImageQuality > 100 {
		opts.ImageQuality = def.ImageQuality
	}
	if opts.Audio.Bitrate == "" {
		opts.Audio = def.Audio
	}
	if opts.VideoTrimLimit <= 0 {
		opts.VideoTrimLimit = def.VideoTrimLimit
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		images:  images,
		audio:   compressor,
		tempDir: tempDir,
		opts:    opts,
		logger:  logger,
	}
}

// Options returns the effective options.
func (t *Transformer) Options() Options {
	return t.opts
}

// Transform prepares asset for upload. Every file it creates is passed to reg
// as soon as it exists, whether or not the transformation succeeds.
//
// A cancelled ctx returns an error wrapping ctx.Err().
func (t *Transformer) Transform(ctx context.Context, asset media.Asset, reg Registrar) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("transform cancelled: %w", err)
	}

	switch asset.Kind {
	case media.KindImage:
		return t.transformImage(ctx, asset, reg)
	case media.KindAudio:
		return t.transformAudio(ctx, asset, reg)
	case media.KindVideo:
		return t.transformVideo(asset), nil
	default:
		return Result{}, fmt.Errorf("%w: unknown kind %q", ErrTransformFailed, asset.Kind)
	}
}

func (t *Transformer) transformImage(ctx context.Context, asset media.Asset, reg Registrar) (Result, error) {
	if t.images == nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransformFailed, ErrNoResizer)
	}

	dst, err := t.reserveTemp("img_*.jpg", reg)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransformFailed, err)
	}

	dims, err := t.images.ResizeImage(ctx, asset.LocalPath, dst, t.opts.MaxImageDimension, t.opts.ImageQuality)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("transform cancelled: %w", ctxErr)
		}
		return Result{}, fmt.Errorf("%w: %w", ErrTransformFailed, err)
	}

	size, err := fileSize(dst)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrTransformFailed, err)
	}

	t.logger.Debug("image resized",
		slog.String("src", asset.LocalPath),
		slog.String("dst", dst),
		slog.Int("width", dims.Width),
		slog.Int("height", dims.Height),
		slog.Int64("bytes", size),
	)

	return Result{Outcome: OutcomeTransformed, Asset: asset.With(dst, size, "image/jpeg")}, nil
}

func (t *Transformer) transformAudio(ctx context.Context, asset media.Asset, reg Registrar) (Result, error) {
	if audio.ShouldSkip(asset.MIMEType, asset.SizeBytes, t.opts.Audio) {
		t.logger.Debug("audio already compressed, skipping",
			slog.String("path", asset.LocalPath),
			slog.Int64("bytes", asset.SizeBytes),
		)
		return Result{Outcome: OutcomeTransformed, Asset: asset}, nil
	}

	if t.audio == nil {
		t.logger.Warn("audio compressor not configured, using original",
			slog.String("path", asset.LocalPath),
		)
		return Result{Outcome: OutcomeFallbackToOriginal, Asset: asset}, nil
	}

	dst, err := t.reserveTemp("audio_*.m4a", reg)
	if err != nil {
		return t.audioFallback(asset, err), nil
	}

	if err := t.audio.Compress(ctx, asset.LocalPath, dst, t.opts.Audio); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("transform cancelled: %w", ctxErr)
		}
		return t.audioFallback(asset, err), nil
	}

	size, err := fileSize(dst)
	if err != nil {
		return t.audioFallback(asset, err), nil
	}

	t.logger.Debug("audio compressed",
		slog.String("src", asset.LocalPath),
		slog.String("dst", dst),
		slog.Int64("src_bytes", asset.SizeBytes),
		slog.Int64("dst_bytes", size),
	)

	return Result{Outcome: OutcomeTransformed, Asset: asset.With(dst, size, "audio/mp4")}, nil
}

func (t *Transformer) audioFallback(asset media.Asset, err error) Result {
	t.logger.Warn("audio compression failed, using original",
		slog.String("path", asset.LocalPath),
		slog.String("error", err.Error()),
	)
	return Result{Outcome: OutcomeFallbackToOriginal, Asset: asset}
}

// transformVideo never trims: long clips go to the external editing flow.
func (t *Transformer) transformVideo(asset media.Asset) Result {
	if asset.Duration > t.opts.VideoTrimLimit {
		t.logger.Info("video exceeds trim limit, external step required",
			slog.String("path", asset.LocalPath),
			slog.Duration("duration", asset.Duration),
			slog.Duration("limit", t.opts.VideoTrimLimit),
		)
		return Result{Outcome: OutcomeRequiresExternalStep, Asset: asset}
	}
	return Result{Outcome: OutcomeTransformed, Asset: asset}
}

// reserveTemp creates an empty temp file and registers it before any work is
// written to it.
func (t *Transformer) reserveTemp(pattern string, reg Registrar) (string, error) {
	f, err := os.CreateTemp(t.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	if reg != nil {
		reg.Register(path)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return path, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat output: %w", err)
	}
	return info.Size(), nil
}
