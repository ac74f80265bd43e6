package upload

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryDelay is the fixed pause between transfer attempts.
const DefaultRetryDelay = 2 * time.Second

// RetryPolicy decides how many times a failed transfer is retried and how
// long to wait between attempts.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// NewBackOff builds the delay schedule for one Upload call.
	// A nil NewBackOff waits DefaultRetryDelay between attempts.
	NewBackOff func() backoff.BackOff
}

// DefaultRetryPolicy retries twice with a constant 2s delay (three attempts in total).
func DefaultRetryPolicy() RetryPolicy {
	return ConstantRetryPolicy(2, DefaultRetryDelay)
}

// ConstantRetryPolicy retries maxRetries times, waiting delay between attempts.
func ConstantRetryPolicy(maxRetries int, delay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(delay)
		},
	}
}

// ImmediateRetryPolicy retries maxRetries times without waiting.
func ImmediateRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		NewBackOff: func() backoff.BackOff {
			return &backoff.ZeroBackOff{}
		},
	}
}

// MaxAttempts returns the total number of attempts the policy allows.
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

func (p RetryPolicy) backOff() backoff.BackOff {
	var b backoff.BackOff
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	}
	if b == nil {
		b = backoff.NewConstantBackOff(DefaultRetryDelay)
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}
