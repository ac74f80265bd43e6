// Package janitor tracks the local temp files created by one content-creation
// operation and deletes them once the operation reaches a terminal state.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
)

// Remover deletes local temp files. storage.LocalStorage satisfies it.
type Remover interface {
	CleanupTemp(ctx context.Context, paths []string) error
}

// osRemover deletes files directly and ignores missing ones.
type osRemover struct{}

func (osRemover) CleanupTemp(_ context.Context, paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Janitor owns the temp paths of a single operation. Every registered path is
// deleted exactly once. Deletion errors are logged and never returned.
type Janitor struct {
	mu      sync.Mutex
	remover Remover
	logger  *slog.Logger

	registered []string
	pending    []string
	seen       map[string]struct{}
	done       bool
}

// New creates a Janitor. A nil remover deletes with os.Remove; a nil logger
// uses slog.Default().
func New(remover Remover, logger *slog.Logger) *Janitor {
	if remover == nil {
		remover = osRemover{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		remover: remover,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
}

// Register adds a path created on behalf of the operation. Registering the
// same path twice has no effect. A path registered after Cleanup has already
// run is deleted immediately.
func (j *Janitor) Register(path string) {
	if path == "" {
		return
	}

	j.mu.Lock()
	if _, ok := j.seen[path]; ok {
		j.mu.Unlock()
		return
	}
	j.seen[path] = struct{}{}
	j.registered = append(j.registered, path)
	late := j.done
	if !late {
		j.pending = append(j.pending, path)
	}
	j.mu.Unlock()

	if late {
		j.logger.Warn("temp path registered after cleanup, removing now",
			slog.String("path", path),
		)
		j.remove(context.Background(), []string{path})
	}
}

// Cleanup deletes every pending path and returns how many deletions were
// attempted. Calling it again only handles paths registered since the last
// call, so a repeated Cleanup on the same set is a no-op.
//
// Cleanup ignores cancellation of ctx: temp files are removed on every exit
// path, including abandoned operations.
func (j *Janitor) Cleanup(ctx context.Context) int {
	j.mu.Lock()
	paths := j.pending
	j.pending = nil
	j.done = true
	j.mu.Unlock()

	if len(paths) == 0 {
		return 0
	}
	j.remove(context.WithoutCancel(ctx), paths)
	return len(paths)
}

// Registered returns every path ever registered, in registration order.
func (j *Janitor) Registered() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.registered))
	copy(out, j.registered)
	return out
}

// Pending returns the paths not yet cleaned up.
func (j *Janitor) Pending() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.pending))
	copy(out, j.pending)
	return out
}

// remove deletes paths one at a time so a failure on one does not skip the rest.
func (j *Janitor) remove(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := j.remover.CleanupTemp(ctx, []string{p}); err != nil {
			j.logger.Warn("failed to remove temp file",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		j.logger.Debug("temp file removed", slog.String("path", p))
	}
}
