package media

import (
	"context"
	"time"
)

// Prober reads playback metadata from local media files.
type Prober interface {
	// ProbeDuration returns the playback duration of an audio or video file.
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// Runner executes ffmpeg with the given arguments.
// Implementations must honor context cancellation.
type Runner interface {
	RunFFmpeg(ctx context.Context, args []string) error
}

// ImageResizer shrinks and recompresses still images.
type ImageResizer interface {
	// ResizeImage reads src, scales it so that neither edge exceeds maxDim
	// while keeping the aspect ratio, and writes a JPEG of the given quality
	// to dst. Images already within bounds are re-encoded without scaling.
	ResizeImage(ctx context.Context, src, dst string, maxDim, quality int) (Dimensions, error)
}

// Dimensions is a pixel size.
type Dimensions struct {
	Width  int
	Height int
}
