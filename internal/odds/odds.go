// Package odds implements the probability core of the wagering engine:
// weighted prize draws, crash-point sampling with a configured return-to-
// player, and reverse-fitted upgrade rolls.
//
// Everything here is a pure function of its inputs and the supplied
// RandomSource. No state, no I/O; the callers own persistence and timing.
package odds

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
)

var (
	// ErrEmptyTable is returned when a draw is attempted on a table with
	// zero items. Configuration bug, never defaulted around.
	ErrEmptyTable = errors.New("odds: prize table has no items")

	// ErrDegenerateTable is returned when a table's weights cannot form a
	// distribution (non-positive weight or zero total).
	ErrDegenerateTable = errors.New("odds: prize table weights are degenerate")

	// ErrInvalidPayoutFactor is returned when the configured RTP fraction
	// is outside (0, 1).
	ErrInvalidPayoutFactor = errors.New("odds: payout factor must be in (0, 1)")

	// ErrInvalidChance is returned for upgrade chances outside [0, 100].
	ErrInvalidChance = errors.New("odds: upgrade chance must be in [0, 100]")

	// ErrInvalidNearMiss is returned for a bias with a share outside [0, 1]
	// or a non-positive window.
	ErrInvalidNearMiss = errors.New("odds: near-miss share must be in [0, 1] and window positive")
)

// Crash point clamp bounds. The lower bound keeps every round worth at
// least a minimal flight; the upper bound caps house exposure.
const (
	MinCrashPoint = 1.01
	MaxCrashPoint = 1000.0
)

// NearMiss tunes the presentation of failing upgrade rolls: Share of them
// land within Window percentage points just above the success threshold.
type NearMiss struct {
	Share  float64
	Window float64
}

// DefaultNearMiss is the stock bias used by UpgradeRoll.
var DefaultNearMiss = NearMiss{Share: 0.40, Window: 5.0}

// WeightedDraw selects one item from the table. Weights are normalized into
// a cumulative distribution and the first item whose cumulative weight
// reaches u × totalWeight is picked, so each item's long-run share equals
// weight / totalWeight.
func WeightedDraw(table model.PrizeTable, rng RandomSource) (model.Item, error) {
	if len(table) == 0 {
		return model.Item{}, ErrEmptyTable
	}

	total := 0.0
	for _, it := range table {
		if it.Weight <= 0 || math.IsNaN(it.Weight) || math.IsInf(it.Weight, 0) {
			return model.Item{}, fmt.Errorf("%w: item %s weight %v", ErrDegenerateTable, it.ID, it.Weight)
		}
		total += it.Weight
	}
	if total <= 0 {
		return model.Item{}, ErrDegenerateTable
	}

	target := rng.Float64() * total
	cum := 0.0
	for _, it := range table {
		cum += it.Weight
		if cum >= target {
			return it, nil
		}
	}
	// Unreachable for u in [0,1); guards float summation edge cases.
	return table[len(table)-1], nil
}

// Draw performs count independent, identically distributed draws. There is
// no without-replacement semantics: the same item can drop repeatedly.
func Draw(table model.PrizeTable, count int, rng RandomSource) ([]model.Item, error) {
	if count < 1 {
		return nil, fmt.Errorf("odds: draw count must be >= 1, got %d", count)
	}
	items := make([]model.Item, 0, count)
	for i := 0; i < count; i++ {
		it, err := WeightedDraw(table, rng)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// SampleCrashPoint draws a crash multiplier via the inverse CDF of
//
//	P(crash < M) = 1 - payoutFactor / M,  M >= payoutFactor
//
// so the long-run expected payout ratio equals payoutFactor (0.95 → 95%
// return to player). The result is clamped to [MinCrashPoint, MaxCrashPoint].
func SampleCrashPoint(payoutFactor float64, rng RandomSource) (float64, error) {
	if payoutFactor <= 0 || payoutFactor >= 1 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidPayoutFactor, payoutFactor)
	}

	u := rng.Float64()
	m := payoutFactor / (1 - u)

	if m < MinCrashPoint {
		m = MinCrashPoint
	}
	if m > MaxCrashPoint {
		m = MaxCrashPoint
	}
	return m, nil
}

// UpgradeRoll produces the cosmetic roll value for an upgrade attempt whose
// outcome is already decided by the authority, using DefaultNearMiss.
func UpgradeRoll(chance float64, success bool, rng RandomSource) (float64, error) {
	return UpgradeRollBiased(chance, success, DefaultNearMiss, rng)
}

// UpgradeRollBiased is UpgradeRoll with a caller-supplied near-miss bias.
// A successful attempt rolls uniformly in [0, chance); a failing one rolls
// in [chance, 100), with bias.Share of failing rolls landing in the
// bias.Window just above the threshold. chance 0 and 100 degenerate to
// full-range sampling in the respective zone. The roll never feeds back
// into the success decision.
func UpgradeRollBiased(chance float64, success bool, bias NearMiss, rng RandomSource) (float64, error) {
	if chance < 0 || chance > 100 || math.IsNaN(chance) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidChance, chance)
	}
	if bias.Share < 0 || bias.Share > 1 || math.IsNaN(bias.Share) || bias.Window <= 0 || math.IsNaN(bias.Window) {
		return 0, fmt.Errorf("%w: got share %v window %v", ErrInvalidNearMiss, bias.Share, bias.Window)
	}

	switch {
	case chance == 0:
		// No success zone exists; sample the whole fail zone.
		return rng.Float64() * 100, nil
	case chance == 100:
		// No fail zone exists; sample the whole success zone.
		return rng.Float64() * 100, nil
	case success:
		return rng.Float64() * chance, nil
	}

	nearHi := chance + bias.Window
	if nearHi >= 100 {
		// The entire fail zone sits inside the near-miss window.
		return chance + rng.Float64()*(100-chance), nil
	}
	if rng.Float64() < bias.Share {
		return chance + rng.Float64()*bias.Window, nil
	}
	return nearHi + rng.Float64()*(100-nearHi), nil
}

// Multiplier computes the advertised multiplier after elapsed flight time:
//
//	m(t) = 1 + (crashPoint - 1) × (1 - e^(-k·t))
//
// Monotone non-decreasing in t, approaching crashPoint asymptotically.
// Computed from wall-clock elapsed time, never from tick counts, so
// scheduler jitter cannot desynchronize the displayed curve from the crash
// determination.
func Multiplier(elapsed time.Duration, crashPoint, growthRate float64) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	t := elapsed.Seconds()
	m := 1 + (crashPoint-1)*(1-math.Exp(-growthRate*t))
	if m > crashPoint {
		m = crashPoint
	}
	return m
}

// CrashReached reports whether the multiplier has closed on the crash
// point. The exponential curve approaches the crash point asymptotically
// and never lands on it exactly, so "reached" means the remaining gap is
// below a fixed convergence epsilon.
func CrashReached(multiplier, crashPoint float64) bool {
	const crashEpsilon = 1e-4
	return crashPoint-multiplier <= crashEpsilon
}
