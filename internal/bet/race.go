package bet

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/outcome"
)

// Entrant is one runner of a weighted-field race.
type Entrant struct {
	ID         int
	Name       string
	Weight     float64
	Speed      float64
	Stamina    float64
	Burst      float64
	Multiplier decimal.Decimal
}

func (e Entrant) attr(name string) float64 {
	switch name {
	case "speed":
		return e.Speed
	case "stamina":
		return e.Stamina
	case "burst":
		return e.Burst
	}
	return 0
}

// baseScore is the latent strength before track and luck.
func (e Entrant) baseScore() float64 {
	return e.Weight*2 + e.Speed*0.6 + e.Stamina*0.5 + e.Burst*0.7
}

// Track biases one entrant attribute for the round.
type Track struct {
	Name      string
	Attribute string // speed | stamina | burst
	Factor    float64
}

// Placing is one entrant's finish in a race.
type Placing struct {
	Rank       int             `json:"rank"`
	EntrantID  int             `json:"entrantId"`
	Name       string          `json:"name"`
	Multiplier decimal.Decimal `json:"multiplier"`
	FinishTime float64         `json:"finishTime"`
	TopSpeed   float64         `json:"topSpeed"`
	ReactionMs int             `json:"reactionMs"`
}

// RaceOutcome ranks every entrant by finish time.
type RaceOutcome struct {
	RoundID  int64     `json:"roundId"`
	Track    string    `json:"track"`
	Placings []Placing `json:"placings"`
}

func (RaceOutcome) Kind() string { return KindRace }

// Winner returns the first placing.
func (o RaceOutcome) Winner() Placing {
	if len(o.Placings) == 0 {
		return Placing{}
	}
	return o.Placings[0]
}

// Race is a weighted-field game. Selector: entrant=<id>.
type Race struct {
	Seed       string
	Entrants   []Entrant
	Tracks     []Track
	Volatility float64 // width of the seeded luck term, centred on zero
}

func (r *Race) Kind() string { return KindRace }

func (r *Race) entrant(sel Selector) (Entrant, bool) {
	if sel.Kind != "entrant" {
		return Entrant{}, false
	}
	id, err := strconv.Atoi(sel.Value)
	if err != nil {
		return Entrant{}, false
	}
	for _, e := range r.Entrants {
		if e.ID == id {
			return e, true
		}
	}
	return Entrant{}, false
}

func (r *Race) Validate(sel Selector) error {
	if _, ok := r.entrant(sel); !ok {
		return invalidSelector(sel, "must name a configured entrant")
	}
	return nil
}

func (r *Race) MaxForfeit(Selector) decimal.Decimal { return one }

// Resolve runs the deterministic race of roundID. Equal finish times keep
// the configured entrant order.
func (r *Race) Resolve(roundID int64) Outcome {
	out := RaceOutcome{RoundID: roundID}
	var track Track
	if n := len(r.Tracks); n > 0 {
		i := int(math.Floor(outcome.HashFloat(fmt.Sprintf("%s:track:%d", r.Seed, roundID))*float64(n))) % n
		track = r.Tracks[i]
	}
	out.Track = track.Name

	out.Placings = make([]Placing, 0, len(r.Entrants))
	for _, e := range r.Entrants {
		vol := outcome.HashFloat(fmt.Sprintf("%s:vol:%d:%d", r.Seed, roundID, e.ID))*r.Volatility - r.Volatility/2
		score := e.baseScore() + e.attr(track.Attribute)*track.Factor + vol
		react := outcome.HashFloat(fmt.Sprintf("%s:react:%d:%d", r.Seed, roundID, e.ID))
		out.Placings = append(out.Placings, Placing{
			EntrantID:  e.ID,
			Name:       e.Name,
			Multiplier: e.Multiplier,
			FinishTime: roundTo(66-score/18, 2),
			TopSpeed:   roundTo(54+score/12, 1),
			ReactionMs: int(math.Floor(180 + (react*100 - 40) - e.Burst*0.35 + 0.5)),
		})
	}
	sort.SliceStable(out.Placings, func(i, j int) bool {
		return out.Placings[i].FinishTime < out.Placings[j].FinishTime
	})
	for i := range out.Placings {
		out.Placings[i].Rank = i + 1
	}
	return out
}

func (r *Race) Evaluate(o Outcome, sel Selector) (Result, error) {
	ro, ok := o.(RaceOutcome)
	if !ok {
		return Result{}, ErrOutcomeMismatch
	}
	e, ok := r.entrant(sel)
	if !ok {
		return Result{}, invalidSelector(sel, "must name a configured entrant")
	}
	w := ro.Winner()
	detail := fmt.Sprintf("winner %d on %s", w.EntrantID, ro.Track)
	if w.EntrantID == e.ID {
		return winAt(e.Multiplier, detail), nil
	}
	return lose(detail), nil
}

func roundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
