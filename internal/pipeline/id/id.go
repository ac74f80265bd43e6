// Package id provides unique identifier generation for upload tasks.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix is prepended to every task id.
const Prefix = "task_"

// Generate creates a new unique, time-ordered task ID.
// Format: task_<uuidv7 without dashes>
// Example: task_0190d6e4a1b27c3e9f1a2b3c4d5e6f70
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fall back to a random v4 id if the clock source fails.
		u = uuid.New()
	}
	return Prefix + strings.ReplaceAll(u.String(), "-", "")
}

// Valid reports whether s looks like an id produced by Generate.
func Valid(s string) bool {
	raw, ok := strings.CutPrefix(s, Prefix)
	if !ok || len(raw) != 32 {
		return false
	}
	_, err := uuid.Parse(raw)
	return err == nil
}
