// Package model defines the core domain types shared across the wagering
// engine. Balances and payouts are integer credits; multipliers and weights
// are float64, but payout computation always goes through shopspring/decimal
// so that floor(amount × multiplier) never suffers float64 rounding.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is one entry of a prize table: a droppable/upgradable good.
type Item struct {
	ID     string  `json:"id"`
	Value  int64   `json:"value"`  // credit value, >= 0
	Weight float64 `json:"weight"` // relative draw weight, > 0
}

// PrizeTable is an ordered list of items with relative weights. Weights need
// not sum to anything in particular; the draw normalizes them.
type PrizeTable []Item

// DrawResult is the immutable outcome of one case-opening request. It is
// created once per accepted request and never mutated; a retried request
// carrying the same key receives this exact value back.
type DrawResult struct {
	RequestKey string    `json:"request_key"`
	UserID     string    `json:"user_id"`
	CaseID     string    `json:"case_id"`
	Count      int       `json:"count"`
	TotalPrice int64     `json:"total_price"`
	Items      []Item    `json:"items"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoundState enumerates the crash round lifecycle.
type RoundState string

const (
	StateWaiting   RoundState = "waiting"
	StateCountdown RoundState = "countdown"
	StateFlying    RoundState = "flying"
	StateCrashed   RoundState = "crashed"
)

// RoundSnapshot is the externally visible state of one crash table at one
// tick. CrashPoint and Seed are zero until the round has crashed; the
// Commitment (hash of the round seed) is visible from the start so clients
// can verify fairness after the reveal.
type RoundSnapshot struct {
	TableID    string     `json:"table_id"`
	RoundID    string     `json:"round_id"`
	State      RoundState `json:"state"`
	Multiplier float64    `json:"multiplier"`
	TickSeq    int64      `json:"tick_seq"`
	Commitment string     `json:"commitment"`
	CrashPoint float64    `json:"crash_point,omitempty"`
	Seed       string     `json:"seed,omitempty"`
}

// BetStatus enumerates the bet lifecycle. CashedOut, Lost and Canceled are
// terminal and settle the wallet exactly once.
type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetActive    BetStatus = "active"
	BetCashedOut BetStatus = "cashed_out"
	BetLost      BetStatus = "lost"
	BetCanceled  BetStatus = "canceled"
)

// Bet is one user's stake in one crash round.
type Bet struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	RoundID     string    `json:"round_id"`
	Amount      int64     `json:"amount"`
	AutoCashout float64   `json:"auto_cashout,omitempty"` // 0 = none
	Status      BetStatus `json:"status"`
	Payout      int64     `json:"payout,omitempty"`
	CashoutAt   float64   `json:"cashout_at,omitempty"` // multiplier at settlement
	PlacedAt    time.Time `json:"placed_at"`

	// ReceiptID keys the placement debit so cancellation can refund it.
	ReceiptID string `json:"-"`
}

// UpgradeAttempt is the record of one item-upgrade roll. Roll is cosmetic:
// it is reverse-fitted to the authoritative Success flag and never feeds
// back into the decision.
type UpgradeAttempt struct {
	ID           string    `json:"id"`
	RequestKey   string    `json:"request_key"`
	UserID       string    `json:"user_id"`
	SourceItemID string    `json:"source_item_id"`
	TargetItemID string    `json:"target_item_id"`
	Chance       float64   `json:"chance"`
	Success      bool      `json:"success"`
	Roll         float64   `json:"roll"`
	CreatedAt    time.Time `json:"created_at"`
}

// OwnedItem is one concrete item instance in a user's holdings. Draws and
// successful upgrades create instances; upgrade attempts consume them.
type OwnedItem struct {
	InstanceID string    `json:"instance_id"`
	ItemID     string    `json:"item_id"`
	Value      int64     `json:"value"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Payout computes floor(amount × multiplier) in decimal arithmetic.
// 100 × 3.0 must be exactly 300, never 299 via a float64 representation
// artifact.
func Payout(amount int64, multiplier float64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(multiplier)).
		Floor().
		IntPart()
}
