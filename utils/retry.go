package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks an error that must not be retried
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so Retry stops immediately
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Retry calls fn up to attempts times with a fixed backoff between tries.
// It stops early when fn succeeds, returns a Permanent error, or ctx is cancelled.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func(attempt int) error, logger *Logger) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.Warn("Retrying (attempt %d/%d) after %v...", attempt, attempts, backoff)
			if err := Sleep(ctx, backoff); err != nil {
				return fmt.Errorf("retry interrupted: %w", err)
			}
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Debug("Attempt %d failed: %v", attempt, err)
		if errors.Is(err, ErrPermanent) {
			return err
		}
	}
	return fmt.Errorf("all %d attempts failed, last error: %w", attempts, lastErr)
}
