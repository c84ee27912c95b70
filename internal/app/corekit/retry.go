// Package corekit holds small generic helpers shared across components:
// retry/backoff policy, list-limit clamping, and lifecycle descriptors.
package corekit

import (
	"context"
	"time"
)

// RetryPolicy governs exponential backoff retry behavior.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryPolicy performs a single attempt with no backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    1,
	InitialBackoff: 0,
	MaxBackoff:     0,
	Multiplier:     1,
}

// BackoffForAttempt returns the delay to wait before the given zero-indexed
// retry attempt, i.e. BackoffForAttempt(0) is the delay before the first
// retry following an initial failure.
func (p RetryPolicy) BackoffForAttempt(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	backoff := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * mult)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
			break
		}
	}
	return backoff
}

// Retry executes fn up to policy.MaxAttempts times, sleeping the computed
// backoff between attempts. It returns the last error, or nil on success.
// Honors ctx cancellation during the sleep.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt == policy.MaxAttempts-1 {
				return lastErr
			}
			backoff := policy.BackoffForAttempt(attempt)
			if backoff > 0 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}
		return nil
	}
	return lastErr
}
