package pipeline

import (
	"testing"

	"github.com/maauso/media-ingest/internal/content"
)

func TestDestinationKey(t *testing.T) {
	tests := []struct {
		name     string
		typ      content.Type
		owner    string
		task     string
		fileName string
		want     string
	}{
		{"plain", content.TypePost, "u1", "task_1", "img_123.jpg", "post/u1/task_1/img_123.jpg"},
		{"extension lowercased", content.TypeTrack, "u1", "task_1", "Take.WAV", "track/u1/task_1/Take.wav"},
		{"unsafe characters", content.TypePost, "u/1", "task_1", "my photo (1).jpeg", "post/u_1/task_1/my_photo__1_.jpeg"},
		{"no extension", content.TypePost, "u1", "task_1", "blob", "post/u1/task_1/blob"},
		{"empty name", content.TypePost, "u1", "task_1", "", "post/u1/task_1/media"},
		{"directory stripped", content.TypePost, "u1", "task_1", "/var/tmp/../x/clip.mp4", "post/u1/task_1/clip.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DestinationKey(tt.typ, tt.owner, tt.task, tt.fileName); got != tt.want {
				t.Errorf("DestinationKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
