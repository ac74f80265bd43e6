// Package audio provides audio recompression for submitted tracks.
package audio

import (
	"context"
	"slices"
)

// CompressOpts configures the single quality target used for audio.
type CompressOpts struct {
	// Bitrate is the AAC target bitrate passed to ffmpeg, e.g. "128k".
	Bitrate string
	// SampleRate is the output sample rate in Hz.
	SampleRate int
	// SkipBelowBytes leaves already-compressed files at or under this size untouched.
	SkipBelowBytes int64
}

// DefaultCompressOpts returns the default options for audio compression.
func DefaultCompressOpts() CompressOpts {
	return CompressOpts{
		Bitrate:        "128k",
		SampleRate:     44100,
		SkipBelowBytes: 2 << 20,
	}
}

// Compressor recompresses audio files to a fixed quality target.
type Compressor interface {
	// Compress re-encodes src into dst (an .m4a path) using opts.
	// dst is overwritten if it exists. The caller owns dst on success and failure.
	Compress(ctx context.Context, src, dst string, opts CompressOpts) error
}

// compressedFormats are lossy container types that gain little from re-encoding.
var compressedFormats = []string{
	"audio/mpeg",
	"audio/mp4",
	"audio/x-m4a",
	"audio/aac",
	"audio/ogg",
	"audio/opus",
}

// IsCompressedFormat reports whether the MIME type is an already-compressed format.
func IsCompressedFormat(mimeType string) bool {
	return slices.Contains(compressedFormats, mimeType)
}

// ShouldSkip reports whether compression can be skipped for a file of the
// given type and size.
func ShouldSkip(mimeType string, sizeBytes int64, opts CompressOpts) bool {
	return IsCompressedFormat(mimeType) && sizeBytes <= opts.SkipBelowBytes
}
