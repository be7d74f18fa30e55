// Package retry defines bounded retry policies for operations that can hit transient failures.
package retry

import (
	"context"
	"time"
)

// BackoffType identifies the backoff strategy.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"       // Same delay each time
	BackoffLinear      BackoffType = "linear"      // Delay increases linearly
	BackoffExponential BackoffType = "exponential" // Delay doubles each time
)

// Policy defines a retry strategy. MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts     int
	Delay           time.Duration
	MaxDelay        time.Duration
	BackoffStrategy BackoffType
	// Retryable decides whether an error is worth another attempt. Nil retries nothing.
	Retryable func(error) bool
}

// FixedPolicy retries errors accepted by retryable, waiting delay between attempts.
func FixedPolicy(attempts int, delay time.Duration, retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts:     attempts,
		Delay:           delay,
		BackoffStrategy: BackoffFixed,
		Retryable:       retryable,
	}
}

// CalculateDelay returns the wait before the given retry (1-based).
func (p Policy) CalculateDelay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}

	var delay time.Duration
	switch p.BackoffStrategy {
	case BackoffLinear:
		delay = p.Delay * time.Duration(retry)
	case BackoffExponential:
		delay = p.Delay << (retry - 1)
	default:
		delay = p.Delay
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether another attempt follows a failed attempt number (1-based).
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return p.Retryable != nil && p.Retryable(err)
}

// Attempt is one try at the operation.
type Attempt[T any] func(ctx context.Context, attempt int) (T, error)

// OnRetry is called before sleeping for another attempt.
type OnRetry func(attempt int, err error, delay time.Duration)

// Do runs fn until it succeeds, returns a non-retryable error or attempts are exhausted.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, policy Policy, fn Attempt[T], onRetry OnRetry) (T, error) {
	var zero T
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if attempt >= attempts || !policy.ShouldRetry(attempt, err) {
			return zero, err
		}

		delay := policy.CalculateDelay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
