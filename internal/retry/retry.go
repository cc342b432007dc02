// Package retry runs operations with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times, doubling baseDelay after each failed
// attempt with ±25% jitter. It stops on success, on a *PermanentError
// (returning the wrapped error), or when ctx is done.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return DoIf(ctx, maxAttempts, baseDelay, func(error) bool { return true }, fn)
}

// DoIf is like Do but only retries errors for which retryable returns true.
// Any other error is returned immediately.
func DoIf(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	delay := baseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if !retryable(err) || attempt >= maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}
		delay *= 2
	}
}

// jitter spreads d uniformly over [0.75d, 1.25d].
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := int64(d / 2)
	if spread == 0 {
		return d
	}
	return d - d/4 + time.Duration(rand.Int64N(spread+1))
}
