package session

import (
	"context"
	"errors"
	"testing"

	"github.com/sebastianusacom/banana-cases-sub000/internal/catalog"
	"github.com/sebastianusacom/banana-cases-sub000/internal/inventory"
	"github.com/sebastianusacom/banana-cases-sub000/internal/ledger"
	"github.com/sebastianusacom/banana-cases-sub000/internal/limits"
	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
	"github.com/sebastianusacom/banana-cases-sub000/internal/odds"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.CaseSpec{
		{
			ID:    "banana-basic",
			Price: 100,
			Items: []catalog.ItemSpec{
				{ID: "peel", Value: 10, Weight: 70},
				{ID: "bunch", Value: 150, Weight: 25},
				{ID: "golden-banana", Value: 2000, Weight: 5},
			},
		},
	}, 0.95)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

type fixture struct {
	catalog *catalog.Catalog
	wallets *ledger.MemoryStore
	items   *inventory.MemoryStore
	results *MemoryResults
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()
	f := &fixture{
		catalog: testCatalog(t),
		wallets: ledger.NewMemoryStore(),
		items:   inventory.NewMemoryStore(),
		results: NewMemoryResults(),
	}
	if err := f.wallets.CreateWallet(context.Background(), "alice", balance); err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return f
}

func (f *fixture) drawService(authority DrawAuthority) *DrawService {
	if authority == nil {
		authority = NewLocalAuthority(f.catalog, odds.SeededSource(7))
	}
	return NewDrawService(f.catalog, f.wallets, f.items, f.results,
		limits.NewStakeLimiter(0, 0), authority, 0)
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.wallets.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (f *fixture) holdings(t *testing.T) []model.OwnedItem {
	t.Helper()
	owned, err := f.items.List(context.Background(), "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return owned
}

// failingAuthority rejects every request.
type failingAuthority struct{}

func (failingAuthority) ResolveDraw(context.Context, model.PrizeTable, int) ([]model.Item, error) {
	return nil, errors.New("authority down")
}

func (failingAuthority) ResolveUpgrade(context.Context, model.Item, model.Item) (UpgradeOutcome, error) {
	return UpgradeOutcome{}, errors.New("authority down")
}

// fixedUpgradeAuthority returns a pinned verdict.
type fixedUpgradeAuthority struct {
	outcome UpgradeOutcome
}

func (a fixedUpgradeAuthority) ResolveUpgrade(context.Context, model.Item, model.Item) (UpgradeOutcome, error) {
	return a.outcome, nil
}

func TestOpenCase_BatchSingleDebit(t *testing.T) {
	f := newFixture(t, 1000)
	svc := f.drawService(nil)
	ctx := context.Background()

	res, err := svc.OpenCase(ctx, "alice", "banana-basic", 3, "req-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if res.TotalPrice != 300 || len(res.Items) != 3 {
		t.Errorf("result = %+v", res)
	}
	if got := f.balance(t); got != 700 {
		t.Errorf("balance = %d, want 700 after one batch debit", got)
	}
	if got := len(f.holdings(t)); got != 3 {
		t.Errorf("holdings = %d, want 3", got)
	}
}

func TestOpenCase_ReplaySameKey(t *testing.T) {
	f := newFixture(t, 1000)
	svc := f.drawService(nil)
	ctx := context.Background()

	first, err := svc.OpenCase(ctx, "alice", "banana-basic", 2, "req-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	replay, err := svc.OpenCase(ctx, "alice", "banana-basic", 2, "req-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.CreatedAt != first.CreatedAt || len(replay.Items) != len(first.Items) {
		t.Errorf("replay returned a different result: %+v vs %+v", replay, first)
	}
	for i := range first.Items {
		if replay.Items[i] != first.Items[i] {
			t.Errorf("item %d differs on replay", i)
		}
	}
	if got := f.balance(t); got != 800 {
		t.Errorf("balance = %d, want 800 (no second debit)", got)
	}
	if got := len(f.holdings(t)); got != 2 {
		t.Errorf("holdings = %d, want 2 (no second grant)", got)
	}

	if _, err := svc.OpenCase(ctx, "bob", "banana-basic", 2, "req-1"); !errors.Is(err, ErrRequestKeyConflict) {
		t.Errorf("foreign replay: expected ErrRequestKeyConflict, got %v", err)
	}
}

func TestOpenCase_Validation(t *testing.T) {
	f := newFixture(t, 1000)
	svc := f.drawService(nil)
	ctx := context.Background()

	if _, err := svc.OpenCase(ctx, "alice", "banana-basic", 1, ""); !errors.Is(err, ErrMissingRequestKey) {
		t.Errorf("missing key: got %v", err)
	}
	if _, err := svc.OpenCase(ctx, "alice", "banana-basic", 0, "k"); !errors.Is(err, ErrInvalidCount) {
		t.Errorf("count 0: got %v", err)
	}
	if _, err := svc.OpenCase(ctx, "alice", "banana-basic", MaxDrawCount+1, "k"); !errors.Is(err, ErrInvalidCount) {
		t.Errorf("count over max: got %v", err)
	}
	if _, err := svc.OpenCase(ctx, "alice", "no-such-case", 1, "k"); !errors.Is(err, catalog.ErrUnknownCase) {
		t.Errorf("unknown case: got %v", err)
	}
	if got := f.balance(t); got != 1000 {
		t.Errorf("balance = %d, want untouched 1000", got)
	}
}

func TestOpenCase_InsufficientBalance(t *testing.T) {
	f := newFixture(t, 250)
	svc := f.drawService(nil)

	if _, err := svc.OpenCase(context.Background(), "alice", "banana-basic", 3, "k"); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := f.balance(t); got != 250 {
		t.Errorf("balance = %d, want untouched 250", got)
	}
}

func TestOpenCase_AuthorityFailureRefunds(t *testing.T) {
	f := newFixture(t, 1000)
	svc := f.drawService(failingAuthority{})
	ctx := context.Background()

	if _, err := svc.OpenCase(ctx, "alice", "banana-basic", 2, "req-1"); !errors.Is(err, ErrAuthorityUnavailable) {
		t.Fatalf("expected ErrAuthorityUnavailable, got %v", err)
	}
	if got := f.balance(t); got != 1000 {
		t.Errorf("balance = %d, want refunded 1000", got)
	}
	if got := len(f.holdings(t)); got != 0 {
		t.Errorf("holdings = %d, want 0", got)
	}

	// The failed attempt stored nothing, so the same key retries cleanly.
	good := f.drawService(nil)
	if _, err := good.OpenCase(ctx, "alice", "banana-basic", 2, "req-1"); err != nil {
		t.Fatalf("retry with same key: %v", err)
	}
	if got := f.balance(t); got != 800 {
		t.Errorf("balance after retry = %d, want 800", got)
	}
}

func TestUpgrade_SuccessReplacesSource(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	src, err := f.items.Add(ctx, "alice", model.Item{ID: "bunch", Value: 150})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	svc := NewUpgradeService(f.catalog, f.wallets, f.items, f.results,
		fixedUpgradeAuthority{UpgradeOutcome{Success: true, Chance: 7.125}},
		odds.SeededSource(1), 0, 0)

	att, err := svc.Attempt(ctx, "alice", src.InstanceID, "golden-banana", "up-1")
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if !att.Success || att.Chance != 7.125 {
		t.Errorf("attempt = %+v", att)
	}
	if att.Roll >= att.Chance {
		t.Errorf("success roll %v outside [0, %v)", att.Roll, att.Chance)
	}

	owned := f.holdings(t)
	if len(owned) != 1 || owned[0].ItemID != "golden-banana" {
		t.Errorf("holdings = %+v, want single golden-banana", owned)
	}
}

func TestUpgrade_FailureConsumesSource(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	src, _ := f.items.Add(ctx, "alice", model.Item{ID: "bunch", Value: 150})
	svc := NewUpgradeService(f.catalog, f.wallets, f.items, f.results,
		fixedUpgradeAuthority{UpgradeOutcome{Success: false, Chance: 7.125}},
		odds.SeededSource(1), 0, 0)

	att, err := svc.Attempt(ctx, "alice", src.InstanceID, "golden-banana", "up-1")
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if att.Success {
		t.Error("expected failure")
	}
	if att.Roll < att.Chance || att.Roll >= 100 {
		t.Errorf("failure roll %v outside [%v, 100)", att.Roll, att.Chance)
	}
	if got := f.holdings(t); len(got) != 0 {
		t.Errorf("holdings = %+v, want source consumed", got)
	}
}

func TestUpgrade_ReplaySameKey(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	src, _ := f.items.Add(ctx, "alice", model.Item{ID: "bunch", Value: 150})
	svc := NewUpgradeService(f.catalog, f.wallets, f.items, f.results,
		fixedUpgradeAuthority{UpgradeOutcome{Success: false, Chance: 7.125}},
		odds.SeededSource(1), 0, 0)

	first, err := svc.Attempt(ctx, "alice", src.InstanceID, "golden-banana", "up-1")
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	// The instance is gone, but the stored result answers the replay.
	replay, err := svc.Attempt(ctx, "alice", src.InstanceID, "golden-banana", "up-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.ID != first.ID || replay.Roll != first.Roll {
		t.Errorf("replay differs: %+v vs %+v", replay, first)
	}

	if _, err := svc.Attempt(ctx, "bob", src.InstanceID, "golden-banana", "up-1"); !errors.Is(err, ErrRequestKeyConflict) {
		t.Errorf("foreign replay: expected ErrRequestKeyConflict, got %v", err)
	}
}

func TestUpgrade_AuthorityFailureKeepsSource(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	src, _ := f.items.Add(ctx, "alice", model.Item{ID: "bunch", Value: 150})
	svc := NewUpgradeService(f.catalog, f.wallets, f.items, f.results,
		failingAuthority{}, odds.SeededSource(1), 25, 0)

	if _, err := svc.Attempt(ctx, "alice", src.InstanceID, "golden-banana", "up-1"); !errors.Is(err, ErrAuthorityUnavailable) {
		t.Fatalf("expected ErrAuthorityUnavailable, got %v", err)
	}
	if got := f.balance(t); got != 1000 {
		t.Errorf("balance = %d, want fee refunded", got)
	}
	owned := f.holdings(t)
	if len(owned) != 1 || owned[0].InstanceID != src.InstanceID {
		t.Errorf("holdings = %+v, want source untouched", owned)
	}
}

func TestUpgrade_Validation(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	src, _ := f.items.Add(ctx, "alice", model.Item{ID: "bunch", Value: 150})
	svc := NewUpgradeService(f.catalog, f.wallets, f.items, f.results,
		fixedUpgradeAuthority{UpgradeOutcome{Success: true, Chance: 50}},
		odds.SeededSource(1), 0, 0)

	if _, err := svc.Attempt(ctx, "alice", src.InstanceID, "golden-banana", ""); !errors.Is(err, ErrMissingRequestKey) {
		t.Errorf("missing key: got %v", err)
	}
	if _, err := svc.Attempt(ctx, "alice", "no-such-instance", "golden-banana", "k1"); !errors.Is(err, inventory.ErrItemNotOwned) {
		t.Errorf("unknown instance: got %v", err)
	}
	if _, err := svc.Attempt(ctx, "alice", src.InstanceID, "no-such-item", "k2"); !errors.Is(err, catalog.ErrUnknownItem) {
		t.Errorf("unknown target: got %v", err)
	}
	if _, err := svc.Attempt(ctx, "alice", src.InstanceID, "bunch", "k3"); !errors.Is(err, ErrInvalidUpgrade) {
		t.Errorf("same item: got %v", err)
	}
}

func TestUpgrade_FeeDebited(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	src, _ := f.items.Add(ctx, "alice", model.Item{ID: "bunch", Value: 150})
	svc := NewUpgradeService(f.catalog, f.wallets, f.items, f.results,
		fixedUpgradeAuthority{UpgradeOutcome{Success: false, Chance: 7.125}},
		odds.SeededSource(1), 25, 0)

	if _, err := svc.Attempt(ctx, "alice", src.InstanceID, "golden-banana", "up-1"); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if got := f.balance(t); got != 975 {
		t.Errorf("balance = %d, want 975 after fee", got)
	}
}
