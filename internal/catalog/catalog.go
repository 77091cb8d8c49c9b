// Package catalog owns the case and item definitions the engine draws
// from. Cases are loaded from configuration, validated once at startup,
// and immutable afterwards; a malformed table is a fatal configuration
// bug, never silently defaulted.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
)

var (
	ErrUnknownCase = errors.New("catalog: unknown case")
	ErrUnknownItem = errors.New("catalog: unknown item")

	// ErrInvalidCatalog is returned by New for any malformed definition.
	ErrInvalidCatalog = errors.New("catalog: invalid definition")
)

// idPattern matches case and item identifiers: lowercase slug, max 64.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Upgrade chance clamp: the roll stays a gamble at both extremes.
const (
	minUpgradeChance = 1.0
	maxUpgradeChance = 95.0
)

// ItemSpec is one configured item of a case.
type ItemSpec struct {
	ID     string  `yaml:"id"`
	Value  int64   `yaml:"value"`
	Weight float64 `yaml:"weight"`
}

// CaseSpec is one configured case.
type CaseSpec struct {
	ID    string     `yaml:"id"`
	Price int64      `yaml:"price"`
	Items []ItemSpec `yaml:"items"`
}

// Case is a validated, priced prize table.
type Case struct {
	ID    string           `json:"id"`
	Price int64            `json:"price"`
	Table model.PrizeTable `json:"table"`
}

// Catalog is the validated set of cases and items.
type Catalog struct {
	cases        map[string]*Case
	items        map[string]model.Item
	payoutFactor float64
}

// New validates the specs and builds the catalog. payoutFactor is the
// table-wide RTP fraction also used to derive upgrade chances.
func New(specs []CaseSpec, payoutFactor float64) (*Catalog, error) {
	if payoutFactor <= 0 || payoutFactor >= 1 {
		return nil, fmt.Errorf("%w: payout factor %v outside (0, 1)", ErrInvalidCatalog, payoutFactor)
	}

	c := &Catalog{
		cases:        make(map[string]*Case),
		items:        make(map[string]model.Item),
		payoutFactor: payoutFactor,
	}

	for _, spec := range specs {
		if !idPattern.MatchString(spec.ID) {
			return nil, fmt.Errorf("%w: case id %q", ErrInvalidCatalog, spec.ID)
		}
		if _, dup := c.cases[spec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate case %q", ErrInvalidCatalog, spec.ID)
		}
		if spec.Price <= 0 {
			return nil, fmt.Errorf("%w: case %q price %d", ErrInvalidCatalog, spec.ID, spec.Price)
		}
		if len(spec.Items) == 0 {
			return nil, fmt.Errorf("%w: case %q has no items", ErrInvalidCatalog, spec.ID)
		}

		table := make(model.PrizeTable, 0, len(spec.Items))
		for _, is := range spec.Items {
			if !idPattern.MatchString(is.ID) {
				return nil, fmt.Errorf("%w: item id %q in case %q", ErrInvalidCatalog, is.ID, spec.ID)
			}
			if is.Weight <= 0 {
				return nil, fmt.Errorf("%w: item %q weight %v", ErrInvalidCatalog, is.ID, is.Weight)
			}
			if is.Value < 0 {
				return nil, fmt.Errorf("%w: item %q value %d", ErrInvalidCatalog, is.ID, is.Value)
			}

			item := model.Item{ID: is.ID, Value: is.Value, Weight: is.Weight}
			if prev, ok := c.items[is.ID]; ok && prev.Value != item.Value {
				return nil, fmt.Errorf("%w: item %q has conflicting values %d and %d",
					ErrInvalidCatalog, is.ID, prev.Value, item.Value)
			}
			c.items[is.ID] = item
			table = append(table, item)
		}

		c.cases[spec.ID] = &Case{ID: spec.ID, Price: spec.Price, Table: table}
	}

	return c, nil
}

// Case returns a case by id.
func (c *Catalog) Case(id string) (*Case, error) {
	cs, ok := c.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCase, id)
	}
	return cs, nil
}

// Item returns an item definition by id.
func (c *Catalog) Item(id string) (model.Item, error) {
	it, ok := c.items[id]
	if !ok {
		return model.Item{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return it, nil
}

// Cases lists all cases in id order.
func (c *Catalog) Cases() []Case {
	out := make([]Case, 0, len(c.cases))
	for _, cs := range c.cases {
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpgradeChance derives the success chance (percent) of upgrading source
// into target from the value ratio, keeping the configured payout factor
// as the expected return: chance = 100 × payoutFactor × source/target,
// clamped to [minUpgradeChance, maxUpgradeChance].
func (c *Catalog) UpgradeChance(source, target model.Item) float64 {
	if target.Value <= 0 || source.Value >= target.Value {
		return maxUpgradeChance
	}
	chance := 100 * c.payoutFactor * float64(source.Value) / float64(target.Value)
	if chance < minUpgradeChance {
		return minUpgradeChance
	}
	if chance > maxUpgradeChance {
		return maxUpgradeChance
	}
	return chance
}
