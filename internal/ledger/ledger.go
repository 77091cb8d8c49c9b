// Package ledger defines the balance ledger for the wagering engine.
// Implementations include PostgreSQL (source of truth), a Redis
// read-through cache wrapper, and in-memory (for testing and development).
//
// Every operation on a single wallet is serialized: no interleaving of
// debit/credit/refund can produce a negative or double-applied balance,
// and replayed idempotency keys are no-ops.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInsufficientBalance is returned by Debit when the wallet cannot
	// cover the amount. No side effects.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrWalletNotFound is returned when the user has no wallet.
	ErrWalletNotFound = errors.New("ledger: wallet not found")

	// ErrWalletExists is returned by CreateWallet for a duplicate user.
	ErrWalletExists = errors.New("ledger: wallet already exists")

	// ErrReceiptNotFound is returned by Refund for an unknown receipt.
	ErrReceiptNotFound = errors.New("ledger: receipt not found")

	// ErrReceiptUsed is returned by Refund when the receipt was already
	// refunded. A receipt is usable exactly once.
	ErrReceiptUsed = errors.New("ledger: receipt already refunded")

	// ErrInvalidAmount is returned for non-positive debit/credit amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Receipt proves a completed debit. Its ID keys the compensating Refund.
type Receipt struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the ledger persistence interface. Balances are integer credits
// and never go negative.
type Store interface {
	// CreateWallet creates a wallet with the given starting balance.
	CreateWallet(ctx context.Context, userID string, initial int64) error

	// Balance returns the current balance.
	Balance(ctx context.Context, userID string) (int64, error)

	// Debit atomically checks and subtracts amount. Fails with
	// ErrInsufficientBalance, leaving the wallet untouched.
	Debit(ctx context.Context, userID string, amount int64) (*Receipt, error)

	// Credit atomically adds amount. A replayed idempotency key is a
	// no-op and returns false; a first application returns true.
	Credit(ctx context.Context, userID string, amount int64, idempotencyKey string) (bool, error)

	// Refund credits back exactly the amount of a prior debit, keyed by
	// the debit's receipt id, usable once. Returns the refunded user and
	// the new balance.
	Refund(ctx context.Context, receiptID string) (string, int64, error)

	// Adjust applies a signed delta (reconciliation primitive). Negative
	// deltas honor the non-negative invariant. A replayed idempotency
	// key is a no-op. Returns the resulting balance.
	Adjust(ctx context.Context, userID string, delta int64, idempotencyKey string) (int64, error)
}
