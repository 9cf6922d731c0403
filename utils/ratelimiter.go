package utils

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum gap between successive calls (API pages, chat sends)
type RateLimiter struct {
	mu       sync.Mutex
	lastCall time.Time
	delay    time.Duration
}

// NewRateLimiterDuration creates a RateLimiter from a duration
func NewRateLimiterDuration(d time.Duration) *RateLimiter {
	return &RateLimiter{delay: d}
}

// Wait blocks until enough time has passed since the last call or ctx is done.
// The first call never blocks.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastCall.IsZero() && r.delay > 0 {
		remaining := r.delay - time.Since(r.lastCall)
		if err := Sleep(ctx, remaining); err != nil {
			return err
		}
	}
	r.lastCall = time.Now()
	return nil
}

// Sleep pauses for d unless ctx is cancelled first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
