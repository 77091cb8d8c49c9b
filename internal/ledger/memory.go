package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). A single
// mutex serializes all wallet operations, which trivially satisfies the
// per-wallet serialization guarantee.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	receipts map[string]*memReceipt
	applied  map[string]struct{} // consumed idempotency keys
}

type memReceipt struct {
	receipt  Receipt
	refunded bool
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		receipts: make(map[string]*memReceipt),
		applied:  make(map[string]struct{}),
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context, userID string, initial int64) error {
	if initial < 0 {
		return fmt.Errorf("%w: initial balance %d", ErrInvalidAmount, initial)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userID]; ok {
		return ErrWalletExists
	}
	s.balances[userID] = initial
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[userID]
	if !ok {
		return 0, ErrWalletNotFound
	}
	return bal, nil
}

func (s *MemoryStore) Debit(_ context.Context, userID string, amount int64) (*Receipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	if bal < amount {
		return nil, ErrInsufficientBalance
	}
	s.balances[userID] = bal - amount

	r := Receipt{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	s.receipts[r.ID] = &memReceipt{receipt: r}
	return &r, nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, amount int64, idempotencyKey string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userID]; !ok {
		return false, ErrWalletNotFound
	}
	if idempotencyKey != "" {
		if _, dup := s.applied[idempotencyKey]; dup {
			return false, nil
		}
		s.applied[idempotencyKey] = struct{}{}
	}
	s.balances[userID] += amount
	return true, nil
}

func (s *MemoryStore) Refund(_ context.Context, receiptID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mr, ok := s.receipts[receiptID]
	if !ok {
		return "", 0, ErrReceiptNotFound
	}
	if mr.refunded {
		return "", 0, ErrReceiptUsed
	}
	mr.refunded = true
	userID := mr.receipt.UserID
	s.balances[userID] += mr.receipt.Amount
	return userID, s.balances[userID], nil
}

func (s *MemoryStore) Adjust(_ context.Context, userID string, delta int64, idempotencyKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, ok := s.balances[userID]
	if !ok {
		return 0, ErrWalletNotFound
	}
	if idempotencyKey != "" {
		if _, dup := s.applied[idempotencyKey]; dup {
			return bal, nil
		}
	}
	if bal+delta < 0 {
		return 0, ErrInsufficientBalance
	}
	if idempotencyKey != "" {
		s.applied[idempotencyKey] = struct{}{}
	}
	s.balances[userID] = bal + delta
	return s.balances[userID], nil
}
