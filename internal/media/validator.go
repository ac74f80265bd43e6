package media

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// RejectReason enumerates why an asset failed validation.
type RejectReason string

const (
	// ReasonFileMissing means the local file could not be accessed.
	ReasonFileMissing RejectReason = "FILE_MISSING"
	// ReasonFileEmpty means the file exists but has no content.
	ReasonFileEmpty RejectReason = "FILE_EMPTY"
	// ReasonKindNotAllowed means the content type does not accept this kind of media.
	ReasonKindNotAllowed RejectReason = "KIND_NOT_ALLOWED"
	// ReasonUnsupportedType means the MIME type or extension is not allow-listed.
	ReasonUnsupportedType RejectReason = "UNSUPPORTED_TYPE"
	// ReasonTooLarge means the file exceeds the size ceiling for its kind.
	ReasonTooLarge RejectReason = "TOO_LARGE"
	// ReasonTooLong means the playback duration exceeds the hard ceiling.
	ReasonTooLong RejectReason = "TOO_LONG"
	// ReasonDurationUnknown means the kind has a duration ceiling and the
	// duration could not be read.
	ReasonDurationUnknown RejectReason = "DURATION_UNKNOWN"
	// ReasonMediaRequired means the content type needs media and none was attached.
	ReasonMediaRequired RejectReason = "MEDIA_REQUIRED"
)

// Verdict is the outcome of validating an asset.
type Verdict struct {
	Accepted bool
	Reason   RejectReason
	// Detail is a human readable explanation for rejected assets.
	Detail string
}

// Accept returns an accepting verdict.
func Accept() Verdict {
	return Verdict{Accepted: true}
}

// Reject returns a rejecting verdict with the given reason.
func Reject(reason RejectReason, format string, args ...any) Verdict {
	return Verdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// KindPolicy holds the limits applied to one kind of media.
type KindPolicy struct {
	AllowedMIME       []string
	AllowedExtensions []string
	MaxBytes          int64
	// MaxDuration is the hard ceiling; zero disables the duration check.
	MaxDuration time.Duration
}

// Policy maps each media kind to its limits.
type Policy map[Kind]KindPolicy

// DefaultPolicy returns the limits used by the mobile client.
func DefaultPolicy() Policy {
	return Policy{
		KindImage: {
			AllowedMIME:       []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/heic"},
			AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".heic"},
			MaxBytes:          15 << 20,
		},
		KindAudio: {
			AllowedMIME: []string{
				"audio/mpeg", "audio/mp4", "audio/x-m4a", "audio/aac",
				"audio/wav", "audio/x-wav", "audio/ogg", "audio/flac", "audio/x-flac",
			},
			AllowedExtensions: []string{".mp3", ".m4a", ".aac", ".wav", ".ogg", ".flac"},
			MaxBytes:          20 << 20,
			MaxDuration:       6 * time.Minute,
		},
		KindVideo: {
			AllowedMIME:       []string{"video/mp4", "video/quicktime", "video/webm", "video/x-m4v"},
			AllowedExtensions: []string{".mp4", ".mov", ".webm", ".m4v"},
			MaxBytes:          200 << 20,
			MaxDuration:       10 * time.Minute,
		},
	}
}

// Validator applies a Policy to picked assets.
type Validator struct {
	policy Policy
}

// NewValidator creates a Validator. A nil policy falls back to DefaultPolicy.
func NewValidator(policy Policy) *Validator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Validator{policy: policy}
}

// Validate checks the asset against the policy for its kind. When accepts is
// non-empty the asset kind must be one of the listed kinds.
//
// Checks run in order: file accessible and non-empty, type allow-list, size
// ceiling, duration ceiling. A kind with a duration ceiling needs a known
// duration. The first failing check decides the verdict.
func (v *Validator) Validate(asset Asset, accepts ...Kind) Verdict {
	info, err := os.Stat(asset.LocalPath)
	if err != nil || info.IsDir() {
		return Reject(ReasonFileMissing, "file %q is not accessible", asset.FileName())
	}
	if info.Size() == 0 {
		return Reject(ReasonFileEmpty, "file %q is empty", asset.FileName())
	}

	if len(accepts) > 0 && !slices.Contains(accepts, asset.Kind) {
		return Reject(ReasonKindNotAllowed, "%s media is not accepted here", asset.Kind)
	}

	kp, ok := v.policy[asset.Kind]
	if !ok {
		return Reject(ReasonUnsupportedType, "unknown media kind %q", asset.Kind)
	}

	if !kp.allowsType(asset) {
		return Reject(ReasonUnsupportedType, "type %q (%s) is not supported for %s", asset.MIMEType, asset.Extension(), asset.Kind)
	}

	size := asset.SizeBytes
	if size <= 0 {
		size = info.Size()
	}
	if kp.MaxBytes > 0 && size > kp.MaxBytes {
		return Reject(ReasonTooLarge, "file is %d bytes, limit is %d", size, kp.MaxBytes)
	}

	if kp.MaxDuration > 0 && asset.Duration <= 0 {
		return Reject(ReasonDurationUnknown, "duration of %q could not be determined", asset.FileName())
	}
	if kp.MaxDuration > 0 && asset.Duration > kp.MaxDuration {
		return Reject(ReasonTooLong, "duration %s exceeds %s", asset.Duration.Round(time.Second), kp.MaxDuration)
	}

	return Accept()
}

// allowsType accepts a known MIME type, or an allow-listed extension when the
// MIME type could not be determined.
func (kp KindPolicy) allowsType(asset Asset) bool {
	mimeType := baseMIME(asset.MIMEType)
	if mimeType != "" && mimeType != "application/octet-stream" {
		return slices.Contains(kp.AllowedMIME, mimeType)
	}
	return slices.Contains(kp.AllowedExtensions, asset.Extension())
}

// baseMIME strips parameters such as "; charset=utf-8".
func baseMIME(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
