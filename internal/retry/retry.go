// Package retry provides the shared backoff policy used for both LLM calls
// and calendar API calls.
package retry

import (
	"context"
	"sync"
	"time"
)

// Policy retries an operation on errors its predicate classifies as
// transient, sleeping between attempts according to the backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff returns the wait before re-running attempt n (0-based:
	// Backoff(0) is the wait after the first failure).
	Backoff func(attempt int) time.Duration

	// Retryable reports whether the error is transient. Non-transient
	// errors are returned immediately.
	Retryable func(err error) bool
}

// ExponentialBackoff returns a 2^attempt seconds schedule (1s, 2s, 4s, ...).
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempt ceiling is reached, or the context is cancelled. The last error
// is returned when attempts exhaust.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		wait := time.Duration(0)
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return err
}

// AdaptiveDelay tracks a rate-limit backoff that doubles on pressure, is
// capped, and decays after successful calls so one burst of throttling does
// not inflate the delay forever. Safe for concurrent use.
type AdaptiveDelay struct {
	mu      sync.Mutex
	current time.Duration
	min     time.Duration
	max     time.Duration
}

// NewAdaptiveDelay starts at min and never exceeds max.
func NewAdaptiveDelay(min, max time.Duration) *AdaptiveDelay {
	return &AdaptiveDelay{current: min, min: min, max: max}
}

// Current returns the present delay.
func (d *AdaptiveDelay) Current() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Grow doubles the delay up to the cap and returns the new value.
func (d *AdaptiveDelay) Grow() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current *= 2
	if d.current > d.max {
		d.current = d.max
	}
	return d.current
}

// Decay shrinks the delay by 10% toward the minimum. Called after a
// successful upstream call.
func (d *AdaptiveDelay) Decay() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = d.current * 9 / 10
	if d.current < d.min {
		d.current = d.min
	}
}
