// Package metrics exports pipeline and transfer instruments to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maauso/media-ingest/internal/media"
	"github.com/maauso/media-ingest/internal/pipeline"
	"github.com/maauso/media-ingest/internal/upload"
)

// DefaultNamespace prefixes every metric name when none is given.
const DefaultNamespace = "media_ingest"

var (
	_ upload.Observer   = (*Observer)(nil)
	_ pipeline.Observer = (*Observer)(nil)
)

// Observer records transfer attempts and terminal task outcomes.
type Observer struct {
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	uploadedBytes   *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
}

// New creates an Observer and registers its collectors with reg. A nil reg
// uses prometheus.DefaultRegisterer. Collectors that are already registered
// are reused, so building two observers on one registry is safe.
func New(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_attempts_total",
			Help:      "Transfer attempts by media kind and result.",
		}, []string{"kind", "result"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_attempt_duration_seconds",
			Help:      "Latency of a single transfer attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"kind"}),
		uploadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes read from local media during successful attempts.",
		}, []string{"kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_outcomes_total",
			Help:      "Finished content-creation tasks by terminal state and failure kind.",
		}, []string{"state", "error_kind"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from submission to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
	}

	var err error
	if o.attempts, err = register(reg, o.attempts); err != nil {
		return nil, err
	}
	if o.attemptDuration, err = register(reg, o.attemptDuration); err != nil {
		return nil, err
	}
	if o.uploadedBytes, err = register(reg, o.uploadedBytes); err != nil {
		return nil, err
	}
	if o.outcomes, err = register(reg, o.outcomes); err != nil {
		return nil, err
	}
	if o.taskDuration, err = register(reg, o.taskDuration); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, returning the existing collector when an equal one
// was registered before.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register collector: %w", err)
}

// ObserveAttempt records one transfer attempt.
func (o *Observer) ObserveAttempt(kind media.Kind, err error, bytes int64, elapsed time.Duration) {
	if o == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	o.attempts.WithLabelValues(string(kind), result).Inc()
	o.attemptDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if err == nil && bytes > 0 {
		o.uploadedBytes.WithLabelValues(string(kind)).Add(float64(bytes))
	}
}

// ObserveOutcome records a finished task.
func (o *Observer) ObserveOutcome(state, kind string, elapsed time.Duration) {
	if o == nil {
		return
	}
	o.outcomes.WithLabelValues(state, kind).Inc()
	o.taskDuration.WithLabelValues(state).Observe(elapsed.Seconds())
}
