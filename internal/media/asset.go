// Package media provides the MediaAsset value, policy validation for picked
// assets, and the local image/probe tooling used by the transformer.
package media

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind is the broad class of a media asset.
type Kind string

const (
	// KindImage is a still picture.
	KindImage Kind = "image"
	// KindVideo is a short video clip.
	KindVideo Kind = "video"
	// KindAudio is an audio recording or track.
	KindAudio Kind = "audio"
)

// IsValid returns true if the kind is one of the known kinds.
func (k Kind) IsValid() bool {
	return k == KindImage || k == KindVideo || k == KindAudio
}

// KindFromMIME infers the asset kind from a MIME type.
// It returns an empty Kind when the type is not image, video or audio.
func KindFromMIME(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	default:
		return ""
	}
}

// Asset is a media file on local disk selected for a piece of content.
// Assets are never mutated; a transformation produces a new Asset.
type Asset struct {
	// LocalPath is the absolute or working-directory relative file path.
	LocalPath string
	// Kind is the asset class.
	Kind Kind
	// SizeBytes is the file size at the time the asset was inspected.
	SizeBytes int64
	// Duration is the playback length for audio and video; zero if unknown.
	Duration time.Duration
	// MIMEType is the sniffed or declared content type.
	MIMEType string
}

// Extension returns the lower-cased file extension including the dot.
func (a Asset) Extension() string {
	return strings.ToLower(filepath.Ext(a.LocalPath))
}

// FileName returns the base name of the local path.
func (a Asset) FileName() string {
	return filepath.Base(a.LocalPath)
}

// HasDuration reports whether a playback duration is known.
func (a Asset) HasDuration() bool {
	return a.Duration > 0
}

// With returns a copy of the asset pointing at a different file.
// Size, MIME type and duration are replaced by the supplied values.
func (a Asset) With(path string, size int64, mimeType string) Asset {
	return Asset{
		LocalPath: path,
		Kind:      a.Kind,
		SizeBytes: size,
		Duration:  a.Duration,
		MIMEType:  mimeType,
	}
}
