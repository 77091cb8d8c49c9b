// Package session implements the request-scoped game flows: case-opening
// draws and item upgrades. Both are orchestrations over the ledger,
// inventory and the probability core, with idempotent replay keyed by a
// client-supplied request key.
package session

import (
	"context"
	"errors"

	"github.com/sebastianusacom/banana-cases-sub000/internal/catalog"
	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
	"github.com/sebastianusacom/banana-cases-sub000/internal/odds"
)

// ErrAuthorityUnavailable is returned when the outcome authority fails or
// times out. The caller's money is returned; nothing is consumed.
var ErrAuthorityUnavailable = errors.New("session: outcome authority unavailable")

// DrawAuthority decides the items a draw yields. Deployments embedding the
// engine resolve locally; a split deployment can put the decision behind an
// RPC without touching the flow.
type DrawAuthority interface {
	ResolveDraw(ctx context.Context, table model.PrizeTable, count int) ([]model.Item, error)
}

// UpgradeOutcome is the authority's verdict on one upgrade attempt.
type UpgradeOutcome struct {
	Success bool
	Chance  float64 // percent, the chance the verdict was rolled against
}

// UpgradeAuthority decides whether an upgrade succeeds. The cosmetic roll
// shown to the client is fitted to this verdict afterwards, never the other
// way around.
type UpgradeAuthority interface {
	ResolveUpgrade(ctx context.Context, source, target model.Item) (UpgradeOutcome, error)
}

// LocalAuthority resolves outcomes in-process against the catalog and a
// random source.
type LocalAuthority struct {
	catalog *catalog.Catalog
	rng     odds.RandomSource
}

// NewLocalAuthority creates an in-process authority. A nil rng selects the
// crypto source.
func NewLocalAuthority(c *catalog.Catalog, rng odds.RandomSource) *LocalAuthority {
	if rng == nil {
		rng = odds.CryptoSource()
	}
	return &LocalAuthority{catalog: c, rng: rng}
}

func (a *LocalAuthority) ResolveDraw(ctx context.Context, table model.PrizeTable, count int) ([]model.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return odds.Draw(table, count, a.rng)
}

func (a *LocalAuthority) ResolveUpgrade(ctx context.Context, source, target model.Item) (UpgradeOutcome, error) {
	if err := ctx.Err(); err != nil {
		return UpgradeOutcome{}, err
	}
	chance := a.catalog.UpgradeChance(source, target)
	return UpgradeOutcome{
		Success: a.rng.Float64()*100 < chance,
		Chance:  chance,
	}, nil
}
