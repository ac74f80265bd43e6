// Package upload transfers prepared media to the object store with bounded
// retries and per-attempt progress reporting.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/maauso/media-ingest/internal/media"
	"github.com/maauso/media-ingest/internal/storage"
)

// Static errors for uploads.
var (
	// ErrTransferFailed is returned when every attempt allowed by the retry policy failed.
	ErrTransferFailed = errors.New("upload: transfer failed")
	// ErrEmptyResult is returned by an attempt whose store call produced no path or reference.
	ErrEmptyResult = errors.New("upload: store returned an empty result")
	// ErrEmptyKey is returned when no destination key is given.
	ErrEmptyKey = errors.New("upload: destination key is required")
)

// Opener opens the local bytes of an asset. storage.LocalStorage satisfies it.
type Opener interface {
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)
}

// Observer is notified after every transfer attempt.
type Observer interface {
	ObserveAttempt(kind media.Kind, err error, bytes int64, elapsed time.Duration)
}

// Result describes a successful upload.
type Result struct {
	StoragePath string
	Ref         string
	Attempts    int
}

// Option configures an Executor.
type Option func(*Executor)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithOpener sets how local files are opened. Defaults to os.Open.
func WithOpener(o Opener) Option {
	return func(e *Executor) {
		e.opener = o
	}
}

// WithObserver registers an attempt observer, typically for metrics.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Executor runs transfers against an object store.
type Executor struct {
	store    storage.ObjectStore
	opener   Opener
	observer Observer
	policy   RetryPolicy
	logger   *slog.Logger
}

// NewExecutor creates an Executor writing to store.
func NewExecutor(store storage.ObjectStore, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		opener: fileOpener{},
		policy: DefaultRetryPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the retry policy in use.
func (e *Executor) Policy() RetryPolicy {
	return e.policy
}

// Upload transfers asset to key. One attempt reads the local bytes, streams
// them to the store and resolves a retrievable reference; any error or empty
// result is retried according to the policy. Every attempt starts by
// reporting a fraction of 0, and every pause before a retry is reported with
// Retrying set.
//
// Cancelling ctx stops further attempts and waits, not the store call that is
// already running unless the store itself honors ctx.
func (e *Executor) Upload(ctx context.Context, asset media.Asset, key string, onProgress ProgressFunc) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}

	var (
		attempt int
		result  Result
	)

	op := func() error {
		attempt++
		start := time.Now()

		path, ref, n, err := e.attempt(ctx, asset, key, attempt, onProgress)
		if e.observer != nil {
			e.observer.ObserveAttempt(asset.Kind, err, n, time.Since(start))
		}
		if err != nil {
			return err
		}

		result = Result{StoragePath: path, Ref: ref, Attempts: attempt}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		if onProgress != nil {
			onProgress(Progress{Attempt: attempt, Retrying: true, Wait: wait})
		}
		e.logger.Warn("upload attempt failed, retrying",
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", e.policy.MaxAttempts()),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	b := backoff.WithContext(e.policy.backOff(), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		e.logger.Error("upload failed",
			slog.String("key", key),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return Result{Attempts: attempt}, fmt.Errorf("%w after %d attempts: %w", ErrTransferFailed, attempt, err)
	}

	e.logger.Info("upload succeeded",
		slog.String("key", key),
		slog.String("ref", result.Ref),
		slog.Int("attempts", result.Attempts),
	)
	return result, nil
}

// attempt performs one transfer and returns the storage path, reference and
// number of bytes read.
func (e *Executor) attempt(ctx context.Context, asset media.Asset, key string, attempt int, onProgress ProgressFunc) (string, string, int64, error) {
	if onProgress != nil {
		onProgress(Progress{Attempt: attempt, Fraction: 0})
	}

	rc, err := e.opener.LoadTemp(ctx, asset.LocalPath)
	if err != nil {
		return "", "", 0, fmt.Errorf("open asset: %w", err)
	}
	defer func() { _ = rc.Close() }()

	size := asset.SizeBytes
	if size <= 0 {
		if info, err := os.Stat(asset.LocalPath); err == nil {
			size = info.Size()
		}
	}

	pr := newProgressReader(rc, size, attempt, onProgress)
	path, err := e.store.Put(ctx, key, pr, size, asset.MIMEType)
	if err != nil {
		return "", "", pr.read, fmt.Errorf("put object: %w", err)
	}
	if path == "" {
		return "", "", pr.read, fmt.Errorf("put object: %w", ErrEmptyResult)
	}

	ref, err := e.store.RetrievableRef(ctx, path)
	if err != nil {
		return "", "", pr.read, fmt.Errorf("resolve reference: %w", err)
	}
	if ref == "" {
		return "", "", pr.read, fmt.Errorf("resolve reference: %w", ErrEmptyResult)
	}

	pr.complete()
	return path, ref, pr.read, nil
}

// fileOpener opens assets directly from disk.
type fileOpener struct{}

func (fileOpener) LoadTemp(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path) // #nosec G304 - path comes from a validated asset
	if err != nil {
		return nil, err
	}
	return f, nil
}
