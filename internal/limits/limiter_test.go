package limits

import (
	"errors"
	"testing"
)

func TestReserve_PerStakeLimit(t *testing.T) {
	l := NewStakeLimiter(100, 0)

	if err := l.Reserve("u1", 100); err != nil {
		t.Fatalf("stake at limit: %v", err)
	}
	if err := l.Reserve("u1", 101); !errors.Is(err, ErrStakeLimitExceeded) {
		t.Fatalf("expected ErrStakeLimitExceeded, got %v", err)
	}
}

func TestReserve_AggregateLimit(t *testing.T) {
	l := NewStakeLimiter(0, 250)

	if err := l.Reserve("u1", 100); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Reserve("u1", 150); err != nil {
		t.Fatalf("second: %v", err)
	}
	if err := l.Reserve("u1", 1); !errors.Is(err, ErrOpenStakeLimitExceeded) {
		t.Fatalf("expected ErrOpenStakeLimitExceeded, got %v", err)
	}

	// Other users are unaffected.
	if err := l.Reserve("u2", 250); err != nil {
		t.Fatalf("u2: %v", err)
	}

	// Release frees headroom again.
	l.Release("u1", 150)
	if err := l.Reserve("u1", 150); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestLimiter_ZeroDisablesAndNilSafe(t *testing.T) {
	l := NewStakeLimiter(0, 0)
	if err := l.Reserve("u1", 1<<40); err != nil {
		t.Fatalf("unlimited limiter rejected stake: %v", err)
	}

	var nilLimiter *StakeLimiter
	if err := nilLimiter.Reserve("u1", 10); err != nil {
		t.Fatalf("nil limiter must be a no-op, got %v", err)
	}
	nilLimiter.Release("u1", 10)
}
