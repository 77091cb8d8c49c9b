package catalog

import (
	"errors"
	"testing"

	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
)

func validSpecs() []CaseSpec {
	return []CaseSpec{
		{
			ID:    "banana-basic",
			Price: 100,
			Items: []ItemSpec{
				{ID: "peel", Value: 10, Weight: 70},
				{ID: "bunch", Value: 150, Weight: 25},
				{ID: "golden-banana", Value: 2000, Weight: 5},
			},
		},
		{
			ID:    "banana-premium",
			Price: 500,
			Items: []ItemSpec{
				{ID: "bunch", Value: 150, Weight: 60},
				{ID: "golden-banana", Value: 2000, Weight: 40},
			},
		},
	}
}

func TestNew_Valid(t *testing.T) {
	c, err := New(validSpecs(), 0.95)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cs, err := c.Case("banana-basic")
	if err != nil {
		t.Fatalf("case lookup: %v", err)
	}
	if cs.Price != 100 || len(cs.Table) != 3 {
		t.Errorf("bad case: %+v", cs)
	}

	it, err := c.Item("golden-banana")
	if err != nil || it.Value != 2000 {
		t.Errorf("item lookup: %+v err=%v", it, err)
	}

	if got := len(c.Cases()); got != 2 {
		t.Errorf("expected 2 cases, got %d", got)
	}
}

func TestNew_Rejections(t *testing.T) {
	base := validSpecs()

	tests := []struct {
		name   string
		mutate func([]CaseSpec) []CaseSpec
	}{
		{"bad case id", func(s []CaseSpec) []CaseSpec { s[0].ID = "Bad ID!"; return s }},
		{"duplicate case", func(s []CaseSpec) []CaseSpec { return append(s, s[0]) }},
		{"zero price", func(s []CaseSpec) []CaseSpec { s[0].Price = 0; return s }},
		{"empty items", func(s []CaseSpec) []CaseSpec { s[0].Items = nil; return s }},
		{"zero weight", func(s []CaseSpec) []CaseSpec { s[0].Items[0].Weight = 0; return s }},
		{"negative value", func(s []CaseSpec) []CaseSpec { s[0].Items[0].Value = -1; return s }},
		{"conflicting item values", func(s []CaseSpec) []CaseSpec {
			s[1].Items[0].Value = 999 // "bunch" is 150 in the first case
			return s
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.mutate(validSpecs()), 0.95); !errors.Is(err, ErrInvalidCatalog) {
				t.Errorf("expected ErrInvalidCatalog, got %v", err)
			}
		})
	}

	if _, err := New(base, 1.0); !errors.Is(err, ErrInvalidCatalog) {
		t.Errorf("payout factor 1.0: expected ErrInvalidCatalog, got %v", err)
	}
}

func TestUnknownLookups(t *testing.T) {
	c, _ := New(validSpecs(), 0.95)

	if _, err := c.Case("nope"); !errors.Is(err, ErrUnknownCase) {
		t.Errorf("expected ErrUnknownCase, got %v", err)
	}
	if _, err := c.Item("nope"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("expected ErrUnknownItem, got %v", err)
	}
}

func TestUpgradeChance(t *testing.T) {
	c, _ := New(validSpecs(), 0.95)

	src := model.Item{ID: "bunch", Value: 150}
	dst := model.Item{ID: "golden-banana", Value: 2000}

	// 100 * 0.95 * 150/2000 = 7.125
	if got := c.UpgradeChance(src, dst); got < 7.12 || got > 7.13 {
		t.Errorf("chance = %v, want 7.125", got)
	}

	// Downgrades and zero-value targets clamp high.
	if got := c.UpgradeChance(dst, src); got != 95 {
		t.Errorf("downgrade chance = %v, want 95", got)
	}
	// Extreme ratios clamp low.
	tiny := model.Item{ID: "peel", Value: 1}
	huge := model.Item{ID: "golden-banana", Value: 1_000_000}
	if got := c.UpgradeChance(tiny, huge); got != 1 {
		t.Errorf("extreme ratio chance = %v, want 1", got)
	}
}
