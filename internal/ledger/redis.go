package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for balances. Writes go to the primary store and invalidate the
// cached balance; reads check Redis first then fall back to the primary.
// Correctness never depends on the cache: idempotency and the non-negative
// invariant live in the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary ledger store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) CreateWallet(ctx context.Context, userID string, initial int64) error {
	if err := s.primary.CreateWallet(ctx, userID, initial); err != nil {
		return err
	}
	s.cacheBalance(ctx, userID, initial)
	return nil
}

func (s *CachedStore) Balance(ctx context.Context, userID string) (int64, error) {
	if val, err := s.rdb.Get(ctx, balanceKey(userID)).Result(); err == nil {
		if bal, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			return bal, nil
		}
	}

	bal, err := s.primary.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.cacheBalance(ctx, userID, bal)
	return bal, nil
}

func (s *CachedStore) Debit(ctx context.Context, userID string, amount int64) (*Receipt, error) {
	r, err := s.primary.Debit(ctx, userID, amount)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, balanceKey(userID))
	return r, nil
}

func (s *CachedStore) Credit(ctx context.Context, userID string, amount int64, idempotencyKey string) (bool, error) {
	applied, err := s.primary.Credit(ctx, userID, amount, idempotencyKey)
	if err != nil {
		return false, err
	}
	if applied {
		s.rdb.Del(ctx, balanceKey(userID))
	}
	return applied, nil
}

func (s *CachedStore) Refund(ctx context.Context, receiptID string) (string, int64, error) {
	userID, balance, err := s.primary.Refund(ctx, receiptID)
	if err != nil {
		return "", 0, err
	}
	s.rdb.Del(ctx, balanceKey(userID))
	return userID, balance, nil
}

func (s *CachedStore) Adjust(ctx context.Context, userID string, delta int64, idempotencyKey string) (int64, error) {
	balance, err := s.primary.Adjust(ctx, userID, delta, idempotencyKey)
	if err != nil {
		return 0, err
	}
	s.cacheBalance(ctx, userID, balance)
	return balance, nil
}

func (s *CachedStore) cacheBalance(ctx context.Context, userID string, balance int64) {
	s.rdb.Set(ctx, balanceKey(userID), strconv.FormatInt(balance, 10), s.ttl)
}

func balanceKey(userID string) string { return fmt.Sprintf("wallet:%s", userID) }
