package reliability

import "time"

// BackoffFunc returns the wait before the given 1-based attempt.
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy bounds how many times an operation is re-attempted.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// DefaultReconnectPolicy allows three attempts spaced linearly by one second.
func DefaultReconnectPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(time.Second)}
}

// Allows reports whether attempt (1-based) is within the budget.
func (p RetryPolicy) Allows(attempt int) bool {
	return attempt >= 1 && attempt <= p.MaxAttempts
}

// Delay returns the wait before attempt, zero when no backoff is set.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	d := p.Backoff(attempt)
	if d < 0 {
		return 0
	}
	return d
}

// LinearBackoff waits attempt*step.
func LinearBackoff(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return 0
		}
		return time.Duration(attempt) * step
	}
}

// NoBackoff retries immediately.
func NoBackoff() BackoffFunc {
	return func(int) time.Duration { return 0 }
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if base >= cap {
		return cap
	}
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
