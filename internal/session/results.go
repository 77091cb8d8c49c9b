package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
)

// ResultStore persists finished draw and upgrade outcomes keyed by the
// client request key, backing idempotent replay. Results are immutable once
// stored.
type ResultStore interface {
	PutDraw(ctx context.Context, res model.DrawResult) error
	GetDraw(ctx context.Context, requestKey string) (model.DrawResult, bool, error)

	PutUpgrade(ctx context.Context, att model.UpgradeAttempt) error
	GetUpgrade(ctx context.Context, requestKey string) (model.UpgradeAttempt, bool, error)
}

// MemoryResults implements ResultStore in memory.
type MemoryResults struct {
	mu       sync.Mutex
	draws    map[string]model.DrawResult
	upgrades map[string]model.UpgradeAttempt
}

// NewMemoryResults creates an empty in-memory result store.
func NewMemoryResults() *MemoryResults {
	return &MemoryResults{
		draws:    make(map[string]model.DrawResult),
		upgrades: make(map[string]model.UpgradeAttempt),
	}
}

func (s *MemoryResults) PutDraw(_ context.Context, res model.DrawResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.draws[res.RequestKey]; !ok {
		s.draws[res.RequestKey] = res
	}
	return nil
}

func (s *MemoryResults) GetDraw(_ context.Context, requestKey string) (model.DrawResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.draws[requestKey]
	return res, ok, nil
}

func (s *MemoryResults) PutUpgrade(_ context.Context, att model.UpgradeAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.upgrades[att.RequestKey]; !ok {
		s.upgrades[att.RequestKey] = att
	}
	return nil
}

func (s *MemoryResults) GetUpgrade(_ context.Context, requestKey string) (model.UpgradeAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	att, ok := s.upgrades[requestKey]
	return att, ok, nil
}

// RedisResults implements ResultStore on Redis with a TTL. The TTL bounds
// the replay window: a request retried after expiry is treated as new.
type RedisResults struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisResults creates a Redis-backed result store.
func NewRedisResults(rdb *redis.Client, ttl time.Duration) *RedisResults {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResults{rdb: rdb, ttl: ttl}
}

func (s *RedisResults) PutDraw(ctx context.Context, res model.DrawResult) error {
	return s.put(ctx, "draw:"+res.RequestKey, res)
}

func (s *RedisResults) GetDraw(ctx context.Context, requestKey string) (model.DrawResult, bool, error) {
	var res model.DrawResult
	ok, err := s.get(ctx, "draw:"+requestKey, &res)
	return res, ok, err
}

func (s *RedisResults) PutUpgrade(ctx context.Context, att model.UpgradeAttempt) error {
	return s.put(ctx, "upgrade:"+att.RequestKey, att)
}

func (s *RedisResults) GetUpgrade(ctx context.Context, requestKey string) (model.UpgradeAttempt, bool, error) {
	var att model.UpgradeAttempt
	ok, err := s.get(ctx, "upgrade:"+requestKey, &att)
	return att, ok, err
}

func (s *RedisResults) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", key, err)
	}
	// SetNX keeps the first stored result authoritative.
	if err := s.rdb.SetNX(ctx, "result:"+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store result %s: %w", key, err)
	}
	return nil
}

func (s *RedisResults) get(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.rdb.Get(ctx, "result:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load result %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode result %s: %w", key, err)
	}
	return true, nil
}
