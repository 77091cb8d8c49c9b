package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sebastianusacom/banana-cases-sub000/internal/catalog"
	"github.com/sebastianusacom/banana-cases-sub000/internal/inventory"
	"github.com/sebastianusacom/banana-cases-sub000/internal/ledger"
	"github.com/sebastianusacom/banana-cases-sub000/internal/limits"
	"github.com/sebastianusacom/banana-cases-sub000/internal/metrics"
	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
)

var (
	// ErrMissingRequestKey is returned when a mutating request carries no
	// idempotency key.
	ErrMissingRequestKey = errors.New("session: request key required")

	// ErrRequestKeyConflict is returned when a request key replays with a
	// different user than the original request.
	ErrRequestKeyConflict = errors.New("session: request key belongs to another user")

	// ErrInvalidCount is returned for draw counts outside [1, MaxDrawCount].
	ErrInvalidCount = errors.New("session: invalid draw count")
)

// MaxDrawCount caps the batch size of one case-opening request.
const MaxDrawCount = 10

// defaultAuthorityTimeout bounds how long a request waits on the outcome
// authority before refunding.
const defaultAuthorityTimeout = 3 * time.Second

// DrawService runs case-opening sessions: one debit for the whole batch up
// front, all items granted on success, the full amount refunded on any
// failure after the debit.
type DrawService struct {
	catalog   *catalog.Catalog
	wallets   ledger.Store
	items     inventory.Store
	results   ResultStore
	limiter   *limits.StakeLimiter
	authority DrawAuthority
	timeout   time.Duration
	log       *slog.Logger
}

// NewDrawService wires a draw service. A zero timeout selects the default.
func NewDrawService(c *catalog.Catalog, wallets ledger.Store, items inventory.Store,
	results ResultStore, limiter *limits.StakeLimiter, authority DrawAuthority,
	timeout time.Duration) *DrawService {
	if timeout == 0 {
		timeout = defaultAuthorityTimeout
	}
	return &DrawService{
		catalog:   c,
		wallets:   wallets,
		items:     items,
		results:   results,
		limiter:   limiter,
		authority: authority,
		timeout:   timeout,
		log:       slog.Default().With("component", "draw"),
	}
}

// OpenCase opens the case count times for the user. requestKey makes the
// whole operation idempotent: a replay returns the stored result without a
// second debit or second set of items.
func (s *DrawService) OpenCase(ctx context.Context, userID, caseID string, count int, requestKey string) (model.DrawResult, error) {
	if requestKey == "" {
		return model.DrawResult{}, ErrMissingRequestKey
	}
	if count < 1 || count > MaxDrawCount {
		return model.DrawResult{}, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}

	if prev, ok, err := s.results.GetDraw(ctx, requestKey); err != nil {
		return model.DrawResult{}, err
	} else if ok {
		if prev.UserID != userID {
			return model.DrawResult{}, ErrRequestKeyConflict
		}
		return prev, nil
	}

	cs, err := s.catalog.Case(caseID)
	if err != nil {
		return model.DrawResult{}, err
	}
	total := cs.Price * int64(count)

	if err := s.limiter.Reserve(userID, total); err != nil {
		return model.DrawResult{}, err
	}
	defer s.limiter.Release(userID, total)

	receipt, err := s.wallets.Debit(ctx, userID, total)
	if err != nil {
		return model.DrawResult{}, err
	}

	authCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	drawn, err := s.authority.ResolveDraw(authCtx, cs.Table, count)
	if err != nil {
		s.refund(receipt, "draw authority", err)
		return model.DrawResult{}, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}

	granted := make([]model.OwnedItem, 0, len(drawn))
	for _, it := range drawn {
		owned, err := s.items.Add(ctx, userID, it)
		if err != nil {
			s.rollbackGrants(userID, granted)
			s.refund(receipt, "inventory grant", err)
			return model.DrawResult{}, fmt.Errorf("grant item %s: %w", it.ID, err)
		}
		granted = append(granted, owned)
	}

	res := model.DrawResult{
		RequestKey: requestKey,
		UserID:     userID,
		CaseID:     caseID,
		Count:      count,
		TotalPrice: total,
		Items:      drawn,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.results.PutDraw(ctx, res); err != nil {
		// The draw stands; only the replay window is degraded.
		s.log.Error("store draw result failed", "request_key", requestKey, "err", err)
	}

	metrics.DrawsTotal.WithLabelValues(caseID).Add(float64(count))
	s.log.Info("case opened", "user", userID, "case", caseID, "count", count, "total", total)
	return res, nil
}

// refund compensates a debit after a post-debit failure. Runs on a fresh
// context: the request context may already be the reason we are here.
func (s *DrawService) refund(receipt *ledger.Receipt, stage string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := s.wallets.Refund(ctx, receipt.ID); err != nil {
		s.log.Error("refund failed", "receipt", receipt.ID, "stage", stage, "cause", cause, "err", err)
		return
	}
	metrics.RefundsTotal.Inc()
	s.log.Warn("draw refunded", "receipt", receipt.ID, "stage", stage, "cause", cause)
}

// rollbackGrants removes items granted before a mid-batch failure so the
// refund does not leave the user with both money and goods.
func (s *DrawService) rollbackGrants(userID string, granted []model.OwnedItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, owned := range granted {
		if _, err := s.items.Remove(ctx, userID, owned.InstanceID); err != nil {
			s.log.Error("grant rollback failed", "instance", owned.InstanceID, "err", err)
		}
	}
}
