package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
//
// Expected schema:
//
//	CREATE TABLE wallets (
//	    user_id  TEXT PRIMARY KEY,
//	    balance  BIGINT NOT NULL CHECK (balance >= 0)
//	);
//	CREATE TABLE ledger_receipts (
//	    id         TEXT PRIMARY KEY,
//	    user_id    TEXT NOT NULL REFERENCES wallets(user_id),
//	    amount     BIGINT NOT NULL,
//	    refunded   BOOLEAN NOT NULL DEFAULT FALSE,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE ledger_idempotency (
//	    key        TEXT PRIMARY KEY,
//	    user_id    TEXT NOT NULL,
//	    applied_at TIMESTAMPTZ NOT NULL
//	);
//
// Row-level locking on the wallet row serializes concurrent operations on
// the same wallet; the CHECK constraint backstops the non-negative
// invariant.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed ledger.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateWallet(ctx context.Context, userID string, initial int64) error {
	if initial < 0 {
		return fmt.Errorf("%w: initial balance %d", ErrInvalidAmount, initial)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, initial,
	)
	if err != nil {
		return fmt.Errorf("create wallet %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletExists
	}
	return nil
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var bal int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrWalletNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", userID, err)
	}
	return bal, nil
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, amount int64) (*Receipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("debit %s: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance - $2
		 WHERE user_id = $1 AND balance >= $2`,
		userID, amount,
	)
	if err != nil {
		return nil, fmt.Errorf("debit %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing wallet from a short balance.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("debit %s: %w", userID, err)
		}
		if !exists {
			return nil, ErrWalletNotFound
		}
		return nil, ErrInsufficientBalance
	}

	r := Receipt{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_receipts (id, user_id, amount, refunded, created_at)
		 VALUES ($1, $2, $3, FALSE, $4)`,
		r.ID, r.UserID, r.Amount, r.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("debit %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("debit %s: %w", userID, err)
	}
	return &r, nil
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount int64, idempotencyKey string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("credit %s: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	if idempotencyKey != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO ledger_idempotency (key, user_id, applied_at)
			 VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`,
			idempotencyKey, userID, time.Now().UTC(),
		)
		if err != nil {
			return false, fmt.Errorf("credit %s: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil // replay, already applied
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $2 WHERE user_id = $1`,
		userID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("credit %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrWalletNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("credit %s: %w", userID, err)
	}
	return true, nil
}

func (s *PostgresStore) Refund(ctx context.Context, receiptID string) (string, int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("refund %s: %w", receiptID, err)
	}
	defer tx.Rollback(ctx)

	var userID string
	var amount int64
	err = tx.QueryRow(ctx,
		`UPDATE ledger_receipts SET refunded = TRUE
		 WHERE id = $1 AND NOT refunded
		 RETURNING user_id, amount`,
		receiptID,
	).Scan(&userID, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM ledger_receipts WHERE id = $1)`, receiptID).Scan(&exists); err != nil {
			return "", 0, fmt.Errorf("refund %s: %w", receiptID, err)
		}
		if !exists {
			return "", 0, ErrReceiptNotFound
		}
		return "", 0, ErrReceiptUsed
	}
	if err != nil {
		return "", 0, fmt.Errorf("refund %s: %w", receiptID, err)
	}

	var balance int64
	if err := tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $2 WHERE user_id = $1
		 RETURNING balance`,
		userID, amount,
	).Scan(&balance); err != nil {
		return "", 0, fmt.Errorf("refund %s: %w", receiptID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", 0, fmt.Errorf("refund %s: %w", receiptID, err)
	}
	return userID, balance, nil
}

func (s *PostgresStore) Adjust(ctx context.Context, userID string, delta int64, idempotencyKey string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("adjust %s: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	if idempotencyKey != "" {
		tag, err := tx.Exec(ctx,
			`INSERT INTO ledger_idempotency (key, user_id, applied_at)
			 VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING`,
			idempotencyKey, userID, time.Now().UTC(),
		)
		if err != nil {
			return 0, fmt.Errorf("adjust %s: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			// Replay: report the current balance, apply nothing.
			if err := tx.Commit(ctx); err != nil {
				return 0, fmt.Errorf("adjust %s: %w", userID, err)
			}
			return s.Balance(ctx, userID)
		}
	}

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $2
		 WHERE user_id = $1 AND balance + $2 >= 0
		 RETURNING balance`,
		userID, delta,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("adjust %s: %w", userID, err)
		}
		if !exists {
			return 0, ErrWalletNotFound
		}
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, fmt.Errorf("adjust %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("adjust %s: %w", userID, err)
	}
	return balance, nil
}
