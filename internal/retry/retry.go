// Package retry provides the single backoff policy applied to every external
// call (embedding provider, vector index, LLM providers). Call sites
// parameterize the policy; the loop, jitter, and cancellation handling live
// here once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy configures exponential backoff.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap on any single delay
	Jitter      bool          // ±25% randomization to avoid thundering herds
}

// DefaultPolicy suits most provider API calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// Permanent wraps an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// NoRetry marks err as permanent so Do returns it immediately.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// RetryAfter wraps an error carrying a server-provided wait hint
// (e.g. a 429 with a Retry-After header). Do honors the hint instead of the
// computed backoff delay.
type RetryAfter struct {
	Err  error
	Wait time.Duration
}

func (r *RetryAfter) Error() string { return r.Err.Error() }
func (r *RetryAfter) Unwrap() error { return r.Err }

// Do runs fn until it succeeds, returns a permanent error, attempts are
// exhausted, or ctx is canceled.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt, lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *Permanent
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}

func (p Policy) delay(attempt int, lastErr error) time.Duration {
	var ra *RetryAfter
	if errors.As(lastErr, &ra) && ra.Wait > 0 {
		if p.MaxDelay > 0 && ra.Wait > p.MaxDelay {
			return p.MaxDelay
		}
		return ra.Wait
	}

	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d += (rand.Float64()*2 - 1) * d * 0.25
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
