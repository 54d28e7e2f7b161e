// File: internal/workflow/backoff.go
package workflow

import "time"

// RetryPolicy bounds the retries of one iteration.
type RetryPolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy allows five retries waiting 2s, 4s, 8s, 16s, 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, BackoffBase: 2 * time.Second, MaxBackoff: 30 * time.Second}
}

// Backoff returns min(base * 2^(attempt-1), max) for attempt >= 1. It is a
// pure function and saturates instead of overflowing.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BackoffBase <= 0 {
		return 0
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
		if d >= time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// RetryState tracks failures within one iteration. It is created at
// iteration start and discarded at iteration end.
type RetryState struct {
	Attempt int
	Policy  RetryPolicy
}

// NewRetryState starts a fresh iteration budget.
func NewRetryState(p RetryPolicy) *RetryState {
	return &RetryState{Policy: p}
}

// Fail records a step failure. It reports whether the step may be retried
// and how long to wait first. Once Attempt exceeds MaxRetries the iteration
// must be abandoned.
func (r *RetryState) Fail() (wait time.Duration, retry bool) {
	r.Attempt++
	if r.Attempt > r.Policy.MaxRetries {
		return 0, false
	}
	return r.Policy.Backoff(r.Attempt), true
}
