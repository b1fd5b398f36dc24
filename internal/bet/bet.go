// Package bet holds the per-family evaluators that turn an outcome and a
// wager selector into a classification and a payout multiplier.
//
// Multipliers are gross: a winning stake s at multiplier m returns s*m, so
// the ledger credits only the profit s*(m-1). Losses forfeit s*Forfeit.
package bet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/outcome"
)

// Evaluator kinds as named in game configuration.
const (
	KindCoin  = "coin"
	KindWheel = "wheel"
	KindRace  = "race"
	KindGate  = "gate"
	KindReels = "reels"
	KindCards = "cards"
)

var (
	ErrInvalidSelector = errors.New("invalid selector")
	ErrInvalidAction   = errors.New("invalid action")
	ErrOutcomeMismatch = errors.New("outcome does not belong to this game")
	ErrNotFinished     = errors.New("round not finished")
)

var one = decimal.NewFromInt(1)

// Class is the classification of an evaluated wager.
type Class uint8

const (
	Unspecified Class = iota
	Win
	Loss
	Push
	Pillar // landed on a gate bound; forfeits more than a plain loss
)

var classNames = [...]string{"unspecified", "win", "loss", "push", "pillar"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Class) UnmarshalText(b []byte) error {
	v, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseClass is the inverse of Class.String.
func ParseClass(s string) (Class, error) {
	for i, n := range classNames {
		if n == s {
			return Class(i), nil
		}
	}
	return Unspecified, fmt.Errorf("unknown classification %q", s)
}

// Selector is what the player bets on, e.g. {color, red} or {entrant, 3}.
type Selector struct {
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value,omitempty"`
}

func (s Selector) String() string {
	if s.Kind == "" {
		return ""
	}
	return s.Kind + "=" + s.Value
}

func invalidSelector(sel Selector, reason string) error {
	return fmt.Errorf("%w: %q %s", ErrInvalidSelector, sel.String(), reason)
}

// Result is the evaluation of one wager.
type Result struct {
	Class      Class           `json:"classification"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Forfeit    decimal.Decimal `json:"forfeit"`
	Detail     string          `json:"detail,omitempty"`
}

func winAt(m decimal.Decimal, detail string) Result {
	return Result{Class: Win, Multiplier: m, Detail: detail}
}

func lose(detail string) Result {
	return Result{Class: Loss, Forfeit: one, Detail: detail}
}

func push(detail string) Result {
	return Result{Class: Push, Detail: detail}
}

// IsWin and IsPush mirror the flags clients expect on a settlement result.
func (r Result) IsWin() bool  { return r.Class == Win }
func (r Result) IsPush() bool { return r.Class == Push }

// Delta is the signed change to the player's balance for stake.
func (r Result) Delta(stake decimal.Decimal) decimal.Decimal {
	switch r.Class {
	case Win:
		return stake.Mul(r.Multiplier.Sub(one))
	case Loss, Pillar:
		return stake.Mul(r.Forfeit).Neg()
	default:
		return decimal.Zero
	}
}

// Outcome is a resolved draw. Concrete types belong to one evaluator kind.
type Outcome interface {
	Kind() string
}

// Game is implemented by every evaluator.
type Game interface {
	Kind() string
	// Validate rejects malformed selectors before anything is mutated.
	Validate(sel Selector) error
	// MaxForfeit is the largest stake fraction sel can lose; balance checks
	// require stake*MaxForfeit.
	MaxForfeit(sel Selector) decimal.Decimal
	Evaluate(o Outcome, sel Selector) (Result, error)
}

// RoundGame resolves the shared outcome of a scheduled round.
type RoundGame interface {
	Game
	Resolve(roundID int64) Outcome
}

// InstantGame draws a fresh outcome for each wager.
type InstantGame interface {
	Game
	Draw(rng outcome.RandomSource) (Outcome, error)
}

// State is the persisted progress of a multi-step round.
type State interface {
	Outcome
	Done() bool
	Actions() []string
	// View is what the player may see; hidden cards are omitted.
	View() any
}

// SessionGame spans several requests: Deal opens, Act advances.
type SessionGame interface {
	Game
	Deal(rng outcome.RandomSource, sel Selector) (State, error)
	Act(st State, action string, rng outcome.RandomSource) (State, error)
	DecodeState(raw []byte) (State, error)
}
