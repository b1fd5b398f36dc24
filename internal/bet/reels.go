package bet

import (
	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/outcome"
)

const reelCount = 3

// Symbol is a weighted reel symbol paying Multiplier on three of a kind.
type Symbol struct {
	Name       string
	Weight     float64
	Multiplier decimal.Decimal
}

// ReelsOutcome lists the symbol on each reel.
type ReelsOutcome struct {
	Symbols []string `json:"symbols"`
}

func (ReelsOutcome) Kind() string { return KindReels }

// Reels is a three-reel slot. A pair returns PairReturn of the stake, all
// distinct forfeits the stake.
type Reels struct {
	Symbols    []Symbol
	PairReturn decimal.Decimal
}

func (r *Reels) Kind() string { return KindReels }

func (r *Reels) Validate(sel Selector) error {
	if sel.Kind != "" {
		return invalidSelector(sel, "reels take no selector")
	}
	return nil
}

func (r *Reels) MaxForfeit(Selector) decimal.Decimal { return one }

func (r *Reels) Draw(rng outcome.RandomSource) (Outcome, error) {
	weights := make([]float64, len(r.Symbols))
	for i, s := range r.Symbols {
		weights[i] = s.Weight
	}
	out := ReelsOutcome{Symbols: make([]string, reelCount)}
	for i := range out.Symbols {
		idx, err := outcome.Pick(rng, weights)
		if err != nil {
			return nil, err
		}
		out.Symbols[i] = r.Symbols[idx].Name
	}
	return out, nil
}

func (r *Reels) symbol(name string) (Symbol, bool) {
	for _, s := range r.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

func (r *Reels) Evaluate(o Outcome, sel Selector) (Result, error) {
	ro, ok := o.(ReelsOutcome)
	if !ok || len(ro.Symbols) != reelCount {
		return Result{}, ErrOutcomeMismatch
	}
	a, b, c := ro.Symbols[0], ro.Symbols[1], ro.Symbols[2]
	switch {
	case a == b && b == c:
		s, ok := r.symbol(a)
		if !ok {
			return Result{}, ErrOutcomeMismatch
		}
		return winAt(s.Multiplier, "triple "+a), nil
	case a == b || b == c || a == c:
		return Result{Class: Loss, Forfeit: one.Sub(r.PairReturn), Detail: "pair"}, nil
	}
	return lose("no match"), nil
}
