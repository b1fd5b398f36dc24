package bet

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/outcome"
)

var coinSides = [2]string{"heads", "tails"}

// CoinOutcome is the side a coin landed on.
type CoinOutcome struct {
	Side string `json:"side"`
}

func (CoinOutcome) Kind() string { return KindCoin }

// Coin is a binary-choice game. Selector: side=heads|tails.
type Coin struct {
	Seed       string          // round seed prefix
	Multiplier decimal.Decimal // gross return on a win
}

func (c *Coin) Kind() string { return KindCoin }

func (c *Coin) Validate(sel Selector) error {
	if sel.Kind != "side" {
		return invalidSelector(sel, "kind must be side")
	}
	if sel.Value != coinSides[0] && sel.Value != coinSides[1] {
		return invalidSelector(sel, "side must be heads or tails")
	}
	return nil
}

func (c *Coin) MaxForfeit(Selector) decimal.Decimal { return one }

func (c *Coin) Resolve(roundID int64) Outcome {
	return CoinOutcome{Side: coinSides[outcome.HashIntn(fmt.Sprintf("%s:%d", c.Seed, roundID), 2)]}
}

func (c *Coin) Draw(rng outcome.RandomSource) (Outcome, error) {
	return CoinOutcome{Side: coinSides[outcome.IntN(rng, 2)]}, nil
}

func (c *Coin) Evaluate(o Outcome, sel Selector) (Result, error) {
	co, ok := o.(CoinOutcome)
	if !ok {
		return Result{}, ErrOutcomeMismatch
	}
	if err := c.Validate(sel); err != nil {
		return Result{}, err
	}
	if co.Side == sel.Value {
		return winAt(c.Multiplier, co.Side), nil
	}
	return lose(co.Side), nil
}
