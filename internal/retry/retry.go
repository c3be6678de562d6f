// Package retry provides a bounded fixed-delay retry loop shared by the
// remote probe, the preview-metadata defer, and the upload-status poll.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAttemptsExhausted is returned (wrapping the last error) when every
	// attempt failed with a retryable error.
	ErrAttemptsExhausted = errors.New("max retry attempts exhausted")
)

// Config configures one retry loop.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// IsRetryable decides whether a failed attempt should be retried. A nil
	// predicate retries nothing.
	IsRetryable func(error) bool
}

// Do runs fn up to MaxAttempts times, sleeping Delay between attempts. A
// non-retryable error is returned as-is immediately; exhausting every attempt
// returns the last error wrapped in ErrAttemptsExhausted, so callers can
// distinguish "kept failing retryably" from a hard failure. Context
// cancellation interrupts both attempts and sleeps.
func Do[T any](ctx context.Context, config Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if config.IsRetryable == nil || !config.IsRetryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt < config.MaxAttempts {
			if err := sleep(ctx, config.Delay); err != nil {
				return zero, err
			}
		}
	}
	return zero, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, config.MaxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
