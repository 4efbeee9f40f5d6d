// Package retry runs an operation a bounded number of times with a fixed pause
// between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop. Retryable decides whether a failed attempt may be
// repeated; a nil Retryable retries every error.
type Policy struct {
	Attempts  int
	Backoff   time.Duration
	Retryable func(error) bool
}

// ErrNoAttempts is returned when a policy allows zero attempts.
var ErrNoAttempts = errors.New("retry: no attempts allowed")

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts run out.
// fn receives the zero-based attempt number. The last error is returned.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if p.Attempts <= 0 {
		return zero, ErrNoAttempts
	}

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			if err := SleepOrDone(ctx, p.Backoff); err != nil {
				return zero, errors.Join(lastErr, err)
			}
		}
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
