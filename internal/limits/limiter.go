// Package limits enforces per-user stake limits across the engine's
// mechanics. A user canceling a crash bet while opening cases still counts
// both stakes against the same aggregate cap.
package limits

import (
	"errors"
	"sync"
)

var (
	// ErrStakeLimitExceeded is returned when a single stake exceeds the
	// per-stake maximum.
	ErrStakeLimitExceeded = errors.New("limits: stake exceeds per-stake maximum")

	// ErrOpenStakeLimitExceeded is returned when a stake would push the
	// user's aggregate open stake beyond the maximum.
	ErrOpenStakeLimitExceeded = errors.New("limits: aggregate open stake limit exceeded")
)

// StakeLimiter tracks outstanding (unsettled) stake per user. Reserve is
// called before the ledger debit; Release when the stake settles (won,
// lost, canceled or refunded). A zero limit disables the respective check.
type StakeLimiter struct {
	maxStake     int64
	maxOpenStake int64

	mu   sync.Mutex
	open map[string]int64
}

// NewStakeLimiter creates a limiter with the given per-stake and aggregate
// open-stake limits. Zero disables a limit.
func NewStakeLimiter(maxStake, maxOpenStake int64) *StakeLimiter {
	return &StakeLimiter{
		maxStake:     maxStake,
		maxOpenStake: maxOpenStake,
		open:         make(map[string]int64),
	}
}

// Reserve registers a pending stake for the user, or rejects it.
func (l *StakeLimiter) Reserve(userID string, stake int64) error {
	if l == nil {
		return nil
	}
	if l.maxStake > 0 && stake > l.maxStake {
		return ErrStakeLimitExceeded
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxOpenStake > 0 && l.open[userID]+stake > l.maxOpenStake {
		return ErrOpenStakeLimitExceeded
	}
	l.open[userID] += stake
	return nil
}

// Release settles a previously reserved stake.
func (l *StakeLimiter) Release(userID string, stake int64) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.open[userID] -= stake
	if l.open[userID] <= 0 {
		delete(l.open, userID)
	}
}

// Open returns the user's current aggregate open stake.
func (l *StakeLimiter) Open(userID string) int64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[userID]
}
