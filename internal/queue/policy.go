package queue

import (
	"math"
	"time"
)

// RetryPolicy decides whether and when a failed action is retried.
//
// The zero value retries on every trigger with no attempt cap and no delay.
type RetryPolicy struct {
	// MaxAttempts caps delivery attempts per action; 0 means unlimited.
	// Actions past the cap stay in the log and are skipped by replay.
	MaxAttempts int

	// Backoff returns the delay before retrying an action that had already
	// failed the given number of times before the current failure. Nil means
	// no delay.
	Backoff func(attempts int) time.Duration
}

// Exhausted reports whether an action with the given attempt count is past the cap.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// NextAttempt returns the earliest time for the next attempt, or the zero
// time when retries are not delayed.
func (p RetryPolicy) NextAttempt(now time.Time, attempts int) time.Time {
	if p.Backoff == nil {
		return time.Time{}
	}
	d := p.Backoff(attempts)
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(d)
}

// ExponentialBackoff doubles base per failed attempt (base, 2*base, 4*base, ...)
// and never exceeds max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempts int) time.Duration {
		if base <= 0 {
			return 0
		}
		d := base
		for i := 0; i < attempts; i++ {
			if max > 0 && d >= max {
				return max
			}
			if d > math.MaxInt64/2 {
				d = math.MaxInt64
				break
			}
			d *= 2
		}
		if max > 0 && d > max {
			return max
		}
		return d
	}
}
