package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnknownKind is returned when the asset kind can neither be declared nor sniffed.
var ErrUnknownKind = errors.New("media: cannot determine media kind")

// Inspect builds an Asset from a local file. The MIME type is sniffed from the
// file content; declared overrides the sniffed kind when set. Audio and video
// durations are probed when a Prober is supplied; probe failures leave the
// duration unknown, which the Validator rejects.
func Inspect(ctx context.Context, path string, declared Kind, prober Prober, logger *slog.Logger) (Asset, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(path)
	if err != nil {
		return Asset{}, fmt.Errorf("stat media: %w", err)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Asset{}, fmt.Errorf("detect media type: %w", err)
	}

	kind := declared
	if kind == "" {
		kind = KindFromMIME(mt.String())
	}
	if !kind.IsValid() {
		return Asset{}, fmt.Errorf("%w: %s", ErrUnknownKind, mt.String())
	}

	asset := Asset{
		LocalPath: path,
		Kind:      kind,
		SizeBytes: info.Size(),
		MIMEType:  baseMIME(mt.String()),
	}

	if prober != nil && (kind == KindAudio || kind == KindVideo) {
		d, err := prober.ProbeDuration(ctx, path)
		if err != nil {
			logger.Warn("duration probe failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			asset.Duration = d
		}
	}

	return asset, nil
}
