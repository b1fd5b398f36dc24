// Package accrual keeps each player's cumulative stake and maps it to a tier.
package accrual

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/kv"
)

const keyPrefix = "total_bet:"

// Key is the store key of player's accrual.
func Key(player string) string { return keyPrefix + strings.ToLower(player) }

// Book reads and increments accruals. Increments go through the store's
// atomic IncrBy so parallel wagers by one player never lose an update.
type Book struct {
	store kv.Store
}

func NewBook(store kv.Store) *Book { return &Book{store: store} }

// Add accrues stake and returns the new total.
func (b *Book) Add(ctx context.Context, player string, stake decimal.Decimal) (decimal.Decimal, error) {
	return b.store.IncrBy(ctx, Key(player), stake)
}

// Compensate reverses an earlier Add of stake.
func (b *Book) Compensate(ctx context.Context, player string, stake decimal.Decimal) (decimal.Decimal, error) {
	return b.store.IncrBy(ctx, Key(player), stake.Neg())
}

// Total returns the accrued stake; a player who never wagered has zero.
func (b *Book) Total(ctx context.Context, player string) (decimal.Decimal, error) {
	raw, err := b.store.Get(ctx, Key(player))
	if errors.Is(err, kv.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(string(raw))
}

// Tier is a named accrual threshold.
type Tier struct {
	Name      string          `json:"name"`
	Threshold decimal.Decimal `json:"threshold"`
}

// Tiers are ordered by descending threshold.
type Tiers []Tier

// NewTiers sorts tiers so Classify can take the first match.
func NewTiers(tiers ...Tier) Tiers {
	out := append(Tiers(nil), tiers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Threshold.GreaterThan(out[j].Threshold) })
	return out
}

// DefaultTiers is used when configuration lists none.
func DefaultTiers() Tiers {
	return NewTiers(
		Tier{Name: "regular", Threshold: decimal.Zero},
		Tier{Name: "silver", Threshold: decimal.NewFromInt(10_000)},
		Tier{Name: "gold", Threshold: decimal.NewFromInt(50_000)},
		Tier{Name: "diamond", Threshold: decimal.NewFromInt(100_000)},
	)
}

// Classify returns the highest tier whose threshold total reaches, or "".
func (t Tiers) Classify(total decimal.Decimal) string {
	for _, tier := range t {
		if total.GreaterThanOrEqual(tier.Threshold) {
			return tier.Name
		}
	}
	return ""
}
