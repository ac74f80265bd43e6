package transform

import (
	"context"

	"github.com/maauso/media-ingest/internal/media"
)

// Job is a transformation running in the background. It is the cancel handle
// for an abandoned operation.
type Job struct {
	cancel context.CancelFunc
	done   chan struct{}
	result Result
	err    error
}

// Runner transforms one asset. *Transformer satisfies it.
type Runner interface {
	Transform(ctx context.Context, asset media.Asset, reg Registrar) (Result, error)
}

// Start runs t.Transform in a new goroutine and returns its handle.
func (t *Transformer) Start(ctx context.Context, asset media.Asset, reg Registrar) *Job {
	return Start(ctx, t, asset, reg)
}

// Start runs r in a new goroutine and returns its handle.
func Start(ctx context.Context, r Runner, asset media.Asset, reg Registrar) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(j.done)
		defer cancel()
		j.result, j.err = r.Transform(ctx, asset, reg)
	}()
	return j
}

// Cancel stops work that has not finished yet. It is safe to call more than
// once and after the job completed.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes and returns its result.
func (j *Job) Wait() (Result, error) {
	<-j.done
	return j.result, j.err
}
