package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/media-ingest/internal/media"
)

// scriptedStore fails Put according to a script and records every call.
type scriptedStore struct {
	mu       sync.Mutex
	putCalls int
	failures []error
	emptyRef bool
	bodies   [][]byte
}

func (s *scriptedStore) Put(_ context.Context, key string, data io.Reader, _ int64, _ string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	s.bodies = append(s.bodies, b)
	if i := s.putCalls - 1; i < len(s.failures) && s.failures[i] != nil {
		return "", s.failures[i]
	}
	return key, nil
}

func (s *scriptedStore) RetrievableRef(_ context.Context, path string) (string, error) {
	if s.emptyRef {
		return "", nil
	}
	return "https://cdn.example.com/" + path, nil
}

func (s *scriptedStore) Delete(context.Context, string) error { return nil }

func (s *scriptedStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCalls
}

type countingObserver struct {
	mu       sync.Mutex
	attempts int
	failed   int
}

func (o *countingObserver) ObserveAttempt(_ media.Kind, err error, _ int64, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	if err != nil {
		o.failed++
	}
}

func testAsset(t *testing.T, size int) media.Asset {
	t.Helper()
	p := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{0xAB}, size), 0o600))
	return media.Asset{LocalPath: p, Kind: media.KindImage, SizeBytes: int64(size), MIMEType: "image/jpeg"}
}

func TestUpload_SucceedsOnThirdAttempt(t *testing.T) {
	boom := errors.New("connection reset")
	store := &scriptedStore{failures: []error{boom, boom}}
	obs := &countingObserver{}
	exec := NewExecutor(store, WithRetryPolicy(ImmediateRetryPolicy(2)), WithObserver(obs))

	res, err := exec.Upload(context.Background(), testAsset(t, 1024), "post/u1/t1/photo.jpg", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, store.calls())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "post/u1/t1/photo.jpg", res.StoragePath)
	assert.Equal(t, "https://cdn.example.com/post/u1/t1/photo.jpg", res.Ref)
	assert.Equal(t, 3, obs.attempts)
	assert.Equal(t, 2, obs.failed)
}

func TestUpload_FailsAfterAllAttempts(t *testing.T) {
	boom := errors.New("503 slow down")
	store := &scriptedStore{failures: []error{boom, boom, boom}}
	exec := NewExecutor(store, WithRetryPolicy(ImmediateRetryPolicy(2)))

	res, err := exec.Upload(context.Background(), testAsset(t, 64), "k", nil)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, store.calls())
	assert.Equal(t, 3, res.Attempts)
	assert.Empty(t, res.Ref)
}

func TestUpload_EmptyReferenceIsRetried(t *testing.T) {
	store := &scriptedStore{emptyRef: true}
	exec := NewExecutor(store, WithRetryPolicy(ImmediateRetryPolicy(1)))

	_, err := exec.Upload(context.Background(), testAsset(t, 64), "k", nil)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ErrEmptyResult)
	assert.Equal(t, 2, store.calls())
}

func TestUpload_MissingFileIsRetriedThenFails(t *testing.T) {
	store := &scriptedStore{}
	exec := NewExecutor(store, WithRetryPolicy(ImmediateRetryPolicy(2)))

	asset := media.Asset{LocalPath: filepath.Join(t.TempDir(), "gone.jpg"), Kind: media.KindImage}
	res, err := exec.Upload(context.Background(), asset, "k", nil)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 0, store.calls())
}

func TestUpload_EmptyKey(t *testing.T) {
	exec := NewExecutor(&scriptedStore{})
	_, err := exec.Upload(context.Background(), testAsset(t, 1), "", nil)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestUpload_ProgressIsMonotonicPerAttempt(t *testing.T) {
	boom := errors.New("timeout")
	store := &scriptedStore{failures: []error{boom}}
	exec := NewExecutor(store, WithRetryPolicy(ImmediateRetryPolicy(2)))

	var events []Progress
	_, err := exec.Upload(context.Background(), testAsset(t, 256<<10), "k", func(p Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	byAttempt := map[int][]float64{}
	pauses := 0
	for _, e := range events {
		if e.Retrying {
			pauses++
			continue
		}
		assert.GreaterOrEqual(t, e.Fraction, 0.0)
		assert.LessOrEqual(t, e.Fraction, 1.0)
		byAttempt[e.Attempt] = append(byAttempt[e.Attempt], e.Fraction)
	}

	require.Len(t, byAttempt, 2)
	for attempt, fractions := range byAttempt {
		assert.Equal(t, 0.0, fractions[0], "attempt %d must start at 0", attempt)
		for i := 1; i < len(fractions); i++ {
			assert.GreaterOrEqual(t, fractions[i], fractions[i-1], "attempt %d regressed", attempt)
		}
	}
	last := byAttempt[2]
	assert.Equal(t, 1.0, last[len(last)-1])
	assert.Equal(t, 1, pauses)
}

func TestUpload_RetryPauseIsReportedBeforeNextAttempt(t *testing.T) {
	boom := errors.New("timeout")
	store := &scriptedStore{failures: []error{boom, boom}}
	exec := NewExecutor(store, WithRetryPolicy(ConstantRetryPolicy(2, 5*time.Millisecond)))

	var events []Progress
	_, err := exec.Upload(context.Background(), testAsset(t, 16), "k", func(p Progress) {
		if p.Retrying || p.Fraction == 0 {
			events = append(events, p)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []Progress{
		{Attempt: 1},
		{Attempt: 1, Retrying: true, Wait: 5 * time.Millisecond},
		{Attempt: 2},
		{Attempt: 2, Retrying: true, Wait: 5 * time.Millisecond},
		{Attempt: 3},
	}, events)
}

func TestUpload_NoPauseAfterLastAttempt(t *testing.T) {
	boom := errors.New("timeout")
	store := &scriptedStore{failures: []error{boom, boom}}
	exec := NewExecutor(store, WithRetryPolicy(ImmediateRetryPolicy(1)))

	pauses := 0
	_, err := exec.Upload(context.Background(), testAsset(t, 16), "k", func(p Progress) {
		if p.Retrying {
			pauses++
		}
	})
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, 1, pauses)
}

func TestUpload_CancelledContextStopsRetries(t *testing.T) {
	boom := errors.New("unreachable")
	store := &scriptedStore{failures: []error{boom, boom, boom}}
	exec := NewExecutor(store, WithRetryPolicy(ConstantRetryPolicy(2, time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := exec.Upload(ctx, testAsset(t, 8), "k", nil)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransferFailed)
		assert.Equal(t, 1, store.calls())
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not stop after cancellation")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 3, p.MaxAttempts())
	assert.Equal(t, DefaultRetryDelay, p.NewBackOff().NextBackOff())

	assert.Equal(t, 1, RetryPolicy{MaxRetries: -1}.MaxAttempts())
	assert.Equal(t, time.Duration(0), ImmediateRetryPolicy(1).NewBackOff().NextBackOff())
}
