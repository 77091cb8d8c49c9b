package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sebastianusacom/banana-cases-sub000/internal/catalog"
	"github.com/sebastianusacom/banana-cases-sub000/internal/inventory"
	"github.com/sebastianusacom/banana-cases-sub000/internal/ledger"
	"github.com/sebastianusacom/banana-cases-sub000/internal/metrics"
	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
	"github.com/sebastianusacom/banana-cases-sub000/internal/odds"
)

// ErrInvalidUpgrade is returned when the target equals the source item.
var ErrInvalidUpgrade = errors.New("session: target must differ from source item")

// UpgradeService runs item-upgrade sessions. The source instance is consumed
// exactly once per attempt, and only after the authority has answered: an
// unavailable authority costs the user nothing.
type UpgradeService struct {
	catalog   *catalog.Catalog
	wallets   ledger.Store
	items     inventory.Store
	results   ResultStore
	authority UpgradeAuthority
	rng       odds.RandomSource
	fee       int64 // flat attempt fee in credits, 0 = free
	timeout   time.Duration
	log       *slog.Logger
}

// NewUpgradeService wires an upgrade service. A nil rng selects the crypto
// source for the cosmetic roll; a zero timeout selects the default.
func NewUpgradeService(c *catalog.Catalog, wallets ledger.Store, items inventory.Store,
	results ResultStore, authority UpgradeAuthority, rng odds.RandomSource,
	fee int64, timeout time.Duration) *UpgradeService {
	if rng == nil {
		rng = odds.CryptoSource()
	}
	if timeout == 0 {
		timeout = defaultAuthorityTimeout
	}
	return &UpgradeService{
		catalog:   c,
		wallets:   wallets,
		items:     items,
		results:   results,
		authority: authority,
		rng:       rng,
		fee:       fee,
		timeout:   timeout,
		log:       slog.Default().With("component", "upgrade"),
	}
}

// Attempt tries to upgrade the owned source instance into the target item.
// On success the source is replaced by a target instance; on failure the
// source is gone. requestKey makes the attempt idempotent.
func (s *UpgradeService) Attempt(ctx context.Context, userID, sourceInstanceID, targetItemID, requestKey string) (model.UpgradeAttempt, error) {
	if requestKey == "" {
		return model.UpgradeAttempt{}, ErrMissingRequestKey
	}

	if prev, ok, err := s.results.GetUpgrade(ctx, requestKey); err != nil {
		return model.UpgradeAttempt{}, err
	} else if ok {
		if prev.UserID != userID {
			return model.UpgradeAttempt{}, ErrRequestKeyConflict
		}
		return prev, nil
	}

	source, err := s.findOwned(ctx, userID, sourceInstanceID)
	if err != nil {
		return model.UpgradeAttempt{}, err
	}
	target, err := s.catalog.Item(targetItemID)
	if err != nil {
		return model.UpgradeAttempt{}, err
	}
	if target.ID == source.ItemID {
		return model.UpgradeAttempt{}, ErrInvalidUpgrade
	}
	sourceItem := model.Item{ID: source.ItemID, Value: source.Value}

	var receipt *ledger.Receipt
	if s.fee > 0 {
		receipt, err = s.wallets.Debit(ctx, userID, s.fee)
		if err != nil {
			return model.UpgradeAttempt{}, err
		}
	}

	// The verdict comes before the source is consumed, so a dead authority
	// leaves the user whole.
	authCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	outcome, err := s.authority.ResolveUpgrade(authCtx, sourceItem, target)
	if err != nil {
		s.refundFee(receipt, err)
		return model.UpgradeAttempt{}, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}

	if _, err := s.items.Remove(ctx, userID, sourceInstanceID); err != nil {
		// Lost a race for the instance; the verdict is discarded unused.
		s.refundFee(receipt, err)
		return model.UpgradeAttempt{}, err
	}

	if outcome.Success {
		if _, err := s.items.Add(ctx, userID, target); err != nil {
			// The source is already consumed; restore it rather than leave
			// the user with nothing they paid for.
			if _, restoreErr := s.items.Add(ctx, userID, sourceItem); restoreErr != nil {
				s.log.Error("source restore failed", "user", userID, "item", sourceItem.ID, "err", restoreErr)
			}
			s.refundFee(receipt, err)
			return model.UpgradeAttempt{}, fmt.Errorf("grant upgrade target: %w", err)
		}
	}

	roll, err := odds.UpgradeRoll(outcome.Chance, outcome.Success, s.rng)
	if err != nil {
		// The outcome stands; the roll is presentation only.
		s.log.Error("cosmetic roll failed", "chance", outcome.Chance, "err", err)
		roll = outcome.Chance
	}

	att := model.UpgradeAttempt{
		ID:           uuid.New().String(),
		RequestKey:   requestKey,
		UserID:       userID,
		SourceItemID: source.ItemID,
		TargetItemID: targetItemID,
		Chance:       outcome.Chance,
		Success:      outcome.Success,
		Roll:         roll,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.results.PutUpgrade(ctx, att); err != nil {
		s.log.Error("store upgrade result failed", "request_key", requestKey, "err", err)
	}

	outcomeLabel := "failure"
	if outcome.Success {
		outcomeLabel = "success"
	}
	metrics.UpgradesTotal.WithLabelValues(outcomeLabel).Inc()
	s.log.Info("upgrade attempted",
		"user", userID,
		"source", source.ItemID,
		"target", targetItemID,
		"chance", outcome.Chance,
		"success", outcome.Success)
	return att, nil
}

// findOwned resolves an instance in the user's holdings without consuming it.
func (s *UpgradeService) findOwned(ctx context.Context, userID, instanceID string) (model.OwnedItem, error) {
	owned, err := s.items.List(ctx, userID)
	if err != nil {
		return model.OwnedItem{}, err
	}
	for _, it := range owned {
		if it.InstanceID == instanceID {
			return it, nil
		}
	}
	return model.OwnedItem{}, inventory.ErrItemNotOwned
}

func (s *UpgradeService) refundFee(receipt *ledger.Receipt, cause error) {
	if receipt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := s.wallets.Refund(ctx, receipt.ID); err != nil {
		s.log.Error("fee refund failed", "receipt", receipt.ID, "cause", cause, "err", err)
		return
	}
	metrics.RefundsTotal.Inc()
}
