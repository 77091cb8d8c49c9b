package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newWallet(t *testing.T, balance int64) (*MemoryStore, context.Context) {
	t.Helper()
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateWallet(ctx, "u1", balance); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return s, ctx
}

func TestDebit_InsufficientBalance(t *testing.T) {
	s, ctx := newWallet(t, 100)

	if _, err := s.Debit(ctx, "u1", 101); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	// Failed debit must leave no side effects.
	if bal, _ := s.Balance(ctx, "u1"); bal != 100 {
		t.Errorf("balance changed by failed debit: %d", bal)
	}
}

func TestDebit_ExactBalance(t *testing.T) {
	s, ctx := newWallet(t, 100)

	r, err := s.Debit(ctx, "u1", 100)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if r.Amount != 100 || r.UserID != "u1" || r.ID == "" {
		t.Errorf("bad receipt: %+v", r)
	}
	if bal, _ := s.Balance(ctx, "u1"); bal != 0 {
		t.Errorf("balance = %d, want 0", bal)
	}
}

func TestCredit_IdempotencyKeyReplay(t *testing.T) {
	s, ctx := newWallet(t, 0)

	applied, err := s.Credit(ctx, "u1", 50, "cashout-1")
	if err != nil || !applied {
		t.Fatalf("first credit: applied=%v err=%v", applied, err)
	}
	applied, err = s.Credit(ctx, "u1", 50, "cashout-1")
	if err != nil {
		t.Fatalf("replayed credit: %v", err)
	}
	if applied {
		t.Error("replayed credit must be a no-op")
	}
	if bal, _ := s.Balance(ctx, "u1"); bal != 50 {
		t.Errorf("balance = %d, want 50 (single application)", bal)
	}
}

func TestRefund_OncePerReceipt(t *testing.T) {
	s, ctx := newWallet(t, 100)

	r, err := s.Debit(ctx, "u1", 40)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}

	userID, bal, err := s.Refund(ctx, r.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if userID != "u1" {
		t.Errorf("refunded user = %q, want u1", userID)
	}
	if bal != 100 {
		t.Errorf("balance after refund = %d, want 100", bal)
	}

	if _, _, err := s.Refund(ctx, r.ID); !errors.Is(err, ErrReceiptUsed) {
		t.Fatalf("second refund: expected ErrReceiptUsed, got %v", err)
	}
	if _, _, err := s.Refund(ctx, "no-such-receipt"); !errors.Is(err, ErrReceiptNotFound) {
		t.Fatalf("unknown receipt: expected ErrReceiptNotFound, got %v", err)
	}
}

func TestAdjust_NegativeDeltaGuard(t *testing.T) {
	s, ctx := newWallet(t, 30)

	if _, err := s.Adjust(ctx, "u1", -31, "adj-1"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	bal, err := s.Adjust(ctx, "u1", -30, "adj-2")
	if err != nil || bal != 0 {
		t.Fatalf("adjust to zero: bal=%d err=%v", bal, err)
	}

	// Replayed key reports the current balance without reapplying.
	bal, err = s.Adjust(ctx, "u1", -30, "adj-2")
	if err != nil || bal != 0 {
		t.Fatalf("replayed adjust: bal=%d err=%v", bal, err)
	}
}

func TestWallet_Lifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Balance(ctx, "ghost"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	if err := s.CreateWallet(ctx, "u1", 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateWallet(ctx, "u1", 10); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("duplicate create: expected ErrWalletExists, got %v", err)
	}
	if _, err := s.Debit(ctx, "u1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero debit: expected ErrInvalidAmount, got %v", err)
	}
}

// TestConcurrent_NeverNegative hammers one wallet from many goroutines with
// debits, idempotent credits and refunds. The balance must never be
// observed negative and must reconcile exactly at the end.
func TestConcurrent_NeverNegative(t *testing.T) {
	s, ctx := newWallet(t, 1000)

	const workers = 16
	const opsPerWorker = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	var debited, refunded, credited int64

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				switch i % 3 {
				case 0:
					r, err := s.Debit(ctx, "u1", 7)
					if err == nil {
						mu.Lock()
						debited += 7
						mu.Unlock()
						if i%6 == 0 {
							if _, _, err := s.Refund(ctx, r.ID); err == nil {
								mu.Lock()
								refunded += 7
								mu.Unlock()
							}
						}
					} else if !errors.Is(err, ErrInsufficientBalance) {
						t.Errorf("debit: %v", err)
					}
				case 1:
					key := fmt.Sprintf("credit-%d-%d", w, i)
					if applied, err := s.Credit(ctx, "u1", 3, key); err != nil {
						t.Errorf("credit: %v", err)
					} else if applied {
						mu.Lock()
						credited += 3
						mu.Unlock()
					}
				case 2:
					bal, err := s.Balance(ctx, "u1")
					if err != nil {
						t.Errorf("balance: %v", err)
					}
					if bal < 0 {
						t.Errorf("observed negative balance %d", bal)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	bal, err := s.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("final balance: %v", err)
	}
	want := 1000 - debited + refunded + credited
	if bal != want {
		t.Errorf("final balance = %d, want %d", bal, want)
	}
	if bal < 0 {
		t.Errorf("final balance negative: %d", bal)
	}
}
