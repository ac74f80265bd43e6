package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

// ErrInvalidDimensions is returned when the target bound or quality is not positive.
var ErrInvalidDimensions = errors.New("invalid dimensions: max dimension and quality must be positive")

// Compile-time check that ImagingResizer implements ImageResizer.
var _ ImageResizer = (*ImagingResizer)(nil)

// ImagingResizer implements ImageResizer in-process with disintegration/imaging.
type ImagingResizer struct{}

// NewImagingResizer creates a new ImagingResizer.
func NewImagingResizer() *ImagingResizer {
	return &ImagingResizer{}
}

// ResizeImage scales src to fit within maxDim x maxDim and writes a JPEG to dst.
// EXIF orientation is applied before scaling so portrait photos stay upright.
func (r *ImagingResizer) ResizeImage(ctx context.Context, src, dst string, maxDim, quality int) (Dimensions, error) {
	if maxDim <= 0 || quality <= 0 {
		return Dimensions{}, fmt.Errorf("%w: max=%d, quality=%d", ErrInvalidDimensions, maxDim, quality)
	}
	if err := ctx.Err(); err != nil {
		return Dimensions{}, fmt.Errorf("resize cancelled: %w", err)
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return Dimensions{}, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	// Decoding and scaling dominate; skip the write if the caller gave up meanwhile.
	if err := ctx.Err(); err != nil {
		return Dimensions{}, fmt.Errorf("resize cancelled: %w", err)
	}

	if err := imaging.Save(img, dst, imaging.JPEGQuality(quality)); err != nil {
		return Dimensions{}, fmt.Errorf("encode image: %w", err)
	}

	out := img.Bounds()
	return Dimensions{Width: out.Dx(), Height: out.Dy()}, nil
}
