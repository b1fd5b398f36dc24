package bet

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/outcome"
)

const ActionShot = "shot"

// GateBucket pays Multiplier when the gate gap is at most MaxGap.
type GateBucket struct {
	MaxGap     int
	Multiplier decimal.Decimal
}

// GateOutcome is two gate cards and, once taken, the shot.
type GateOutcome struct {
	Low  Card  `json:"low"`
	High Card  `json:"high"`
	Shot *Card `json:"shot,omitempty"`
}

func (GateOutcome) Kind() string { return KindGate }

// Gap is High.Rank - Low.Rank.
func (o GateOutcome) Gap() int { return o.High.Rank - o.Low.Rank }

func (o GateOutcome) Done() bool { return o.Shot != nil }

func (o GateOutcome) Actions() []string {
	if o.Done() {
		return nil
	}
	return []string{ActionShot}
}

func (o GateOutcome) View() any { return o }

// Gate is the between-the-pillars game. No selector is needed: the player
// always bets the shot lands strictly inside the gate.
type Gate struct {
	Buckets       []GateBucket // ascending MaxGap
	Otherwise     decimal.Decimal
	PillarForfeit decimal.Decimal
}

func (g *Gate) Kind() string { return KindGate }

func (g *Gate) Validate(sel Selector) error {
	if sel.Kind != "" {
		return invalidSelector(sel, "gate takes no selector")
	}
	return nil
}

func (g *Gate) MaxForfeit(Selector) decimal.Decimal {
	if g.PillarForfeit.GreaterThan(one) {
		return g.PillarForfeit
	}
	return one
}

// Multiplier is the bucketed gross return for gap.
func (g *Gate) Multiplier(gap int) decimal.Decimal {
	for _, b := range g.Buckets {
		if gap <= b.MaxGap {
			return b.Multiplier
		}
	}
	return g.Otherwise
}

func (g *Gate) deal(rng outcome.RandomSource) GateOutcome {
	low, high := drawCard(rng), drawCard(rng)
	for low.Rank == high.Rank {
		high = drawCard(rng)
	}
	if low.Rank > high.Rank {
		low, high = high, low
	}
	return GateOutcome{Low: low, High: high}
}

// Draw deals a gate and shoots at once (quick mode).
func (g *Gate) Draw(rng outcome.RandomSource) (Outcome, error) {
	o := g.deal(rng)
	shot := drawCard(rng)
	o.Shot = &shot
	return o, nil
}

// Deal opens a classic round: the gate is shown before the shot.
func (g *Gate) Deal(rng outcome.RandomSource, sel Selector) (State, error) {
	if err := g.Validate(sel); err != nil {
		return nil, err
	}
	return g.deal(rng), nil
}

func (g *Gate) Act(st State, action string, rng outcome.RandomSource) (State, error) {
	o, ok := st.(GateOutcome)
	if !ok {
		return nil, ErrOutcomeMismatch
	}
	if o.Done() || action != ActionShot {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	shot := drawCard(rng)
	o.Shot = &shot
	return o, nil
}

func (g *Gate) DecodeState(raw []byte) (State, error) {
	var o GateOutcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return o, nil
}

func (g *Gate) Evaluate(o Outcome, sel Selector) (Result, error) {
	gate, ok := o.(GateOutcome)
	if !ok {
		return Result{}, ErrOutcomeMismatch
	}
	if !gate.Done() {
		return Result{}, ErrNotFinished
	}
	shot := gate.Shot.Rank
	detail := fmt.Sprintf("%s-%s shot %s", gate.Low.Label(), gate.High.Label(), gate.Shot.Label())
	switch {
	case shot > gate.Low.Rank && shot < gate.High.Rank:
		return winAt(g.Multiplier(gate.Gap()), detail), nil
	case shot == gate.Low.Rank || shot == gate.High.Rank:
		return Result{Class: Pillar, Forfeit: g.PillarForfeit, Detail: detail}, nil
	}
	return lose(detail), nil
}
