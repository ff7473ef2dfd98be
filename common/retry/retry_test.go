package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bdobrica/l2r/common/retry"
)

// noSleep records requested waits without blocking.
func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var waits []time.Duration
	calls := 0
	p := retry.Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Sleep: noSleep(&waits)}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil after eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 || waits[0] != 10*time.Millisecond || waits[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff schedule %v", waits)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var waits []time.Duration
	sentinel := errors.New("permanent")
	calls := 0
	p := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep(&waits)}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 {
		t.Fatalf("expected 2 waits, got %d", len(waits))
	}
}

func TestDo_ShouldRetryPredicate(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	p := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
	}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retries for permanent error), got %d", calls)
	}
}

func TestDo_JitterStaysBounded(t *testing.T) {
	var waits []time.Duration
	p := retry.Policy{
		MaxAttempts: 4,
		BaseDelay:   10 * time.Millisecond,
		Jitter:      5 * time.Millisecond,
		Sleep:       noSleep(&waits),
	}
	_ = p.Do(context.Background(), func(context.Context) error { return errors.New("fail") })

	base := p.Delays()
	if len(waits) != len(base) {
		t.Fatalf("expected %d waits, got %d", len(base), len(waits))
	}
	for i, w := range waits {
		if w < base[i] || w >= base[i]+5*time.Millisecond {
			t.Errorf("wait %d = %v, want in [%v, %v)", i, w, base[i], base[i]+5*time.Millisecond)
		}
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_ = retry.Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond}.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if calls != 0 {
		t.Fatalf("expected no calls with cancelled context, got %d", calls)
	}
}

func TestDelays_CapsAtMaxDelay(t *testing.T) {
	p := retry.Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	got := p.Delays()
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("Delays() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Delays() = %v, want %v", got, want)
		}
	}
}
