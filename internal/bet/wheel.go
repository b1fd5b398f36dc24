package bet

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/outcome"
)

const wheelPockets = 37 // 0..36

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// WheelOutcome is a single-zero roulette pocket with its groups.
type WheelOutcome struct {
	Number int    `json:"number"`
	Color  string `json:"color"`
	Parity string `json:"parity,omitempty"`
	Range  string `json:"range,omitempty"`
	Dozen  int    `json:"dozen,omitempty"`
}

func (WheelOutcome) Kind() string { return KindWheel }

func pocket(n int) WheelOutcome {
	if n == 0 {
		return WheelOutcome{Number: 0, Color: "green"}
	}
	o := WheelOutcome{Number: n, Color: "black", Parity: "odd", Range: "low", Dozen: (n + 11) / 12}
	if redNumbers[n] {
		o.Color = "red"
	}
	if n%2 == 0 {
		o.Parity = "even"
	}
	if n > 18 {
		o.Range = "high"
	}
	return o
}

// WheelPayouts are gross multipliers per selector kind.
type WheelPayouts struct {
	Color  decimal.Decimal
	Parity decimal.Decimal
	Range  decimal.Decimal
	Dozen  decimal.Decimal
	Number decimal.Decimal
}

// Wheel is single-zero roulette. Zero loses every group bet.
type Wheel struct {
	Seed    string
	Payouts WheelPayouts
}

func (w *Wheel) Kind() string { return KindWheel }

func (w *Wheel) Validate(sel Selector) error {
	switch sel.Kind {
	case "color":
		if sel.Value != "red" && sel.Value != "black" {
			return invalidSelector(sel, "color must be red or black")
		}
	case "parity":
		if sel.Value != "odd" && sel.Value != "even" {
			return invalidSelector(sel, "parity must be odd or even")
		}
	case "range":
		if sel.Value != "low" && sel.Value != "high" {
			return invalidSelector(sel, "range must be low or high")
		}
	case "dozen":
		if n, err := strconv.Atoi(sel.Value); err != nil || n < 1 || n > 3 {
			return invalidSelector(sel, "dozen must be 1, 2 or 3")
		}
	case "number":
		if n, err := strconv.Atoi(sel.Value); err != nil || n < 0 || n >= wheelPockets {
			return invalidSelector(sel, "number must be 0 to 36")
		}
	default:
		return invalidSelector(sel, "kind must be color, parity, range, dozen or number")
	}
	return nil
}

func (w *Wheel) MaxForfeit(Selector) decimal.Decimal { return one }

func (w *Wheel) Resolve(roundID int64) Outcome {
	return pocket(outcome.HashIntn(fmt.Sprintf("%s:%d", w.Seed, roundID), wheelPockets))
}

func (w *Wheel) Draw(rng outcome.RandomSource) (Outcome, error) {
	return pocket(outcome.IntN(rng, wheelPockets)), nil
}

func (w *Wheel) Evaluate(o Outcome, sel Selector) (Result, error) {
	wo, ok := o.(WheelOutcome)
	if !ok {
		return Result{}, ErrOutcomeMismatch
	}
	if err := w.Validate(sel); err != nil {
		return Result{}, err
	}
	detail := strconv.Itoa(wo.Number) + " " + wo.Color
	if sel.Kind == "number" {
		n, _ := strconv.Atoi(sel.Value)
		if n == wo.Number {
			return winAt(w.Payouts.Number, detail), nil
		}
		return lose(detail), nil
	}
	if wo.Number == 0 {
		return lose(detail), nil
	}
	var hit bool
	var m decimal.Decimal
	switch sel.Kind {
	case "color":
		hit, m = wo.Color == sel.Value, w.Payouts.Color
	case "parity":
		hit, m = wo.Parity == sel.Value, w.Payouts.Parity
	case "range":
		hit, m = wo.Range == sel.Value, w.Payouts.Range
	case "dozen":
		hit, m = strconv.Itoa(wo.Dozen) == sel.Value, w.Payouts.Dozen
	}
	if hit {
		return winAt(m, detail), nil
	}
	return lose(detail), nil
}
