// Package retry provides a bounded exponential-backoff retry policy for
// transient errors (rate limits, upstream 5xx).
//
// Usage:
//
//	p := retry.Policy{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond, Jitter: 100 * time.Millisecond}
//	err := p.Do(ctx, func(ctx context.Context) error {
//	    return client.Call(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Policy controls the retry behaviour.
type Policy struct {
	// MaxAttempts is the total number of attempts (including the first).
	// Zero or negative values are treated as 1 (no retries).
	MaxAttempts int
	// BaseDelay is the wait before the second attempt. Subsequent delays are
	// doubled up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt wait (before jitter).
	MaxDelay time.Duration
	// Jitter is the upper bound of a random extra delay added to every wait.
	Jitter time.Duration
	// ShouldRetry classifies errors as retryable. When nil, all non-nil
	// errors are retried.
	ShouldRetry func(err error) bool
	// Sleep waits for d or until ctx is done. Tests replace it to avoid real
	// waiting; nil means a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default mirrors the LLM transport backoff: three attempts, 300 ms base,
// up to 100 ms of jitter.
var Default = Policy{
	MaxAttempts: 3,
	BaseDelay:   300 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	Jitter:      100 * time.Millisecond,
}

// Do calls fn up to p.MaxAttempts times, backing off exponentially between
// attempts. It stops early when ctx is cancelled, fn returns nil, or
// ShouldRetry rejects the error. The error from the last attempt is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.normalised()

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := delay + p.jitter()
		slog.Debug("retry: attempt failed, retrying",
			"attempt", attempt, "max", p.MaxAttempts,
			"err", lastErr, "delay", wait)

		if err := p.Sleep(ctx, wait); err != nil {
			return errors.Join(lastErr, err)
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}

// Delays returns the backoff schedule (without jitter) the policy would use
// between attempts. Useful for logging and tests.
func (p Policy) Delays() []time.Duration {
	p = p.normalised()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	delay := p.BaseDelay
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, delay)
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return out
}

func (p Policy) normalised() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = Default.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = Default.MaxDelay
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = func(error) bool { return true }
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

func (p Policy) jitter() time.Duration {
	if p.Jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(p.Jitter)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
