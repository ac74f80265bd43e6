package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/maauso/media-ingest/internal/content"
)

// DestinationKey builds the object key for a task's media:
// <type>/<owner>/<task>/<file name>.
func DestinationKey(t content.Type, ownerID, taskID, fileName string) string {
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(filepath.Base(fileName), ext)
	if ext != "" {
		ext = "." + sanitizeSegment(strings.ToLower(ext[1:]))
	}
	base = sanitizeSegment(base)
	if base == "" || base == "_" {
		base = "media"
	}
	return strings.Join([]string{
		string(t),
		sanitizeSegment(ownerID),
		sanitizeSegment(taskID),
		base + ext,
	}, "/")
}

// sanitizeSegment keeps ASCII letters, digits, '.', '-' and '_'; everything
// else becomes '_'.
func sanitizeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && b.Len() > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
