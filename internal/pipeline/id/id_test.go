package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	t.Run("has task prefix", func(t *testing.T) {
		id := Generate()
		if !strings.HasPrefix(id, Prefix) {
			t.Errorf("ID should start with %q, got %s", Prefix, id)
		}
	})

	t.Run("is valid", func(t *testing.T) {
		id := Generate()
		if !Valid(id) {
			t.Errorf("Generate() produced invalid id %s", id)
		}
	})

	t.Run("generates unique IDs", func(t *testing.T) {
		ids := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			id := Generate()
			if ids[id] {
				t.Errorf("duplicate ID generated: %s", id)
			}
			ids[id] = true
		}
	})

	t.Run("ids sort by creation time", func(t *testing.T) {
		a := Generate()
		b := Generate()
		if a >= b {
			t.Errorf("expected %s < %s", a, b)
		}
	})
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"task_", false},
		{"job-1701432000-a1b2c3d4", false},
		{"task_0190d6e4a1b27c3e9f1a2b3c4d5e6f70", true},
		{"task_zz90d6e4a1b27c3e9f1a2b3c4d5e6f70", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
