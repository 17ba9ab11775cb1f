package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy controls how often and how long an operation is retried.
type Policy struct {
	Attempts int           // Total attempts including the first
	BaseWait time.Duration // Wait before the second attempt
	MaxWait  time.Duration // Upper bound on a single wait
}

// DefaultPolicy suits short local contention such as a locked database.
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 4,
		BaseWait: 25 * time.Millisecond,
		MaxWait:  500 * time.Millisecond,
	}
}

// Backoff returns the wait before the given attempt (1-based, attempt 0
// never waits): exponential growth with up to 10% jitter, capped at MaxWait.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BaseWait <= 0 {
		return 0
	}
	wait := time.Duration(float64(p.BaseWait) * math.Pow(2, float64(attempt-1)))
	if p.MaxWait > 0 && (wait > p.MaxWait || wait <= 0) {
		wait = p.MaxWait
	}
	jitter := time.Duration(rand.Float64() * float64(wait) * 0.1)
	return wait + jitter
}

// Do runs f until it succeeds, fails with an error retryable rejects, or
// the attempts run out. The last error is returned. A nil retryable treats
// every error as retryable.
func Do(ctx context.Context, p Policy, retryable func(error) bool, f func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff(attempt)):
			}
		}
		if lastErr = f(); lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
