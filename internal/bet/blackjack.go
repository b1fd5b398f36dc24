package bet

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/outcome"
)

const (
	ActionHit   = "hit"
	ActionStand = "stand"
)

// CardsState is a blackjack hand in progress.
type CardsState struct {
	Player   []Card `json:"player"`
	Dealer   []Card `json:"dealer"`
	Finished bool   `json:"finished"`
}

func (CardsState) Kind() string { return KindCards }

func (s CardsState) Done() bool { return s.Finished }

func (s CardsState) Actions() []string {
	if s.Finished {
		return nil
	}
	return []string{ActionHit, ActionStand}
}

// CardsView hides the dealer's hole card until the hand is finished.
type CardsView struct {
	Player      []Card `json:"player"`
	PlayerTotal int    `json:"playerTotal"`
	Soft        bool   `json:"soft,omitempty"`
	Dealer      []Card `json:"dealer"`
	DealerTotal int    `json:"dealerTotal,omitempty"`
	Hidden      int    `json:"hiddenCards,omitempty"`
	Finished    bool   `json:"finished"`
}

func (s CardsState) View() any {
	v := CardsView{Player: s.Player, Finished: s.Finished}
	v.PlayerTotal, v.Soft = HandTotal(s.Player)
	if s.Finished {
		v.Dealer = s.Dealer
		v.DealerTotal, _ = HandTotal(s.Dealer)
		return v
	}
	if len(s.Dealer) > 0 {
		v.Dealer = s.Dealer[:1]
		v.Hidden = len(s.Dealer) - 1
	}
	return v
}

func (s CardsState) clone() CardsState {
	return CardsState{
		Player:   append([]Card(nil), s.Player...),
		Dealer:   append([]Card(nil), s.Dealer...),
		Finished: s.Finished,
	}
}

// Blackjack plays one hand against a dealer drawing to DealerStand.
type Blackjack struct {
	Win         decimal.Decimal // gross, ordinary win
	Premium     decimal.Decimal // gross, two-card 21
	DealerStand int
}

func (b *Blackjack) Kind() string { return KindCards }

func (b *Blackjack) Validate(sel Selector) error {
	if sel.Kind != "" {
		return invalidSelector(sel, "cards take no selector")
	}
	return nil
}

func (b *Blackjack) MaxForfeit(Selector) decimal.Decimal { return one }

func (b *Blackjack) Deal(rng outcome.RandomSource, sel Selector) (State, error) {
	if err := b.Validate(sel); err != nil {
		return nil, err
	}
	s := CardsState{
		Player: []Card{drawCard(rng), drawCard(rng)},
		Dealer: []Card{drawCard(rng), drawCard(rng)},
	}
	if IsNatural(s.Player) {
		s.Finished = true
	}
	return s, nil
}

func (b *Blackjack) Act(st State, action string, rng outcome.RandomSource) (State, error) {
	cur, ok := st.(CardsState)
	if !ok {
		return nil, ErrOutcomeMismatch
	}
	if cur.Finished {
		return nil, fmt.Errorf("%w: hand is finished", ErrInvalidAction)
	}
	s := cur.clone()
	switch action {
	case ActionHit:
		s.Player = append(s.Player, drawCard(rng))
		total, _ := HandTotal(s.Player)
		switch {
		case total > 21:
			s.Finished = true
		case total == 21:
			b.dealerPlays(&s, rng)
		}
	case ActionStand:
		b.dealerPlays(&s, rng)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return s, nil
}

func (b *Blackjack) dealerPlays(s *CardsState, rng outcome.RandomSource) {
	for {
		t, _ := HandTotal(s.Dealer)
		if t >= b.DealerStand {
			break
		}
		s.Dealer = append(s.Dealer, drawCard(rng))
	}
	s.Finished = true
}

func (b *Blackjack) DecodeState(raw []byte) (State, error) {
	var s CardsState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Blackjack) Evaluate(o Outcome, sel Selector) (Result, error) {
	s, ok := o.(CardsState)
	if !ok {
		return Result{}, ErrOutcomeMismatch
	}
	if !s.Finished {
		return Result{}, ErrNotFinished
	}
	p, _ := HandTotal(s.Player)
	d, _ := HandTotal(s.Dealer)
	pNat, dNat := IsNatural(s.Player), IsNatural(s.Dealer)
	detail := fmt.Sprintf("%d vs %d", p, d)
	switch {
	case p > 21:
		return lose("bust " + detail), nil
	case pNat && dNat:
		return push("both blackjack"), nil
	case pNat:
		return winAt(b.Premium, "blackjack "+detail), nil
	case dNat:
		return lose("dealer blackjack"), nil
	case d > 21:
		return winAt(b.Win, "dealer bust "+detail), nil
	case p > d:
		return winAt(b.Win, detail), nil
	case p == d:
		return push(detail), nil
	}
	return lose(detail), nil
}
