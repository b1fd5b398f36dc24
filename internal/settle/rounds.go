package settle

import (
	"strconv"

	"github.com/xtding233/wager-backend/internal/apperrors"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/game"
	"github.com/xtding233/wager-backend/internal/round"
)

// RoundInfo describes a round. Outcome is set only once the round closed.
type RoundInfo struct {
	round.Round
	Phase   string      `json:"phase"`
	Outcome bet.Outcome `json:"outcome,omitempty"`
}

// RoundStatus is the current round of a family and the last closed one.
type RoundStatus struct {
	Current  RoundInfo `json:"current"`
	Previous RoundInfo `json:"previous"`
}

func (e *Engine) roundFamily(family string) (*game.Family, *game.Catalog, bet.RoundGame, error) {
	fam, cat, err := e.family(family, game.ModeRound)
	if err != nil {
		return nil, nil, nil, err
	}
	g, ok := fam.RoundGame()
	if !ok {
		return nil, nil, nil, apperrors.New(apperrors.CodeInternal, "round family without a round evaluator")
	}
	return fam, cat, g, nil
}

// CurrentRound reports the open round of family and reveals the previous
// round's outcome.
func (e *Engine) CurrentRound(family string) (RoundStatus, error) {
	fam, cat, g, err := e.roundFamily(family)
	if err != nil {
		return RoundStatus{}, err
	}
	now := e.now()
	cur, _ := cat.Scheduler.Current(fam.Name, now)
	prev := cur.Previous()
	return RoundStatus{
		Current:  RoundInfo{Round: cur, Phase: cur.Phase(now)},
		Previous: RoundInfo{Round: prev, Phase: prev.Phase(now), Outcome: g.Resolve(prev.ID)},
	}, nil
}

// ClosedRound returns round id of family with its outcome. Outcomes of rounds
// that have not ended stay hidden.
func (e *Engine) ClosedRound(family string, id int64) (RoundInfo, error) {
	fam, cat, g, err := e.roundFamily(family)
	if err != nil {
		return RoundInfo{}, err
	}
	now := e.now()
	r, _ := cat.Scheduler.Round(fam.Name, id)
	if !r.IsClosed(now) {
		return RoundInfo{}, apperrors.WithMetadata(apperrors.CodeRoundOpen, "round has not ended",
			map[string]string{"closesAt": formatMs(r.ClosesAt)})
	}
	return RoundInfo{Round: r, Phase: r.Phase(now), Outcome: g.Resolve(id)}, nil
}

// Families lists the live family names with their modes.
func (e *Engine) Families() map[string]string {
	cat := e.catalogs.Catalog()
	out := make(map[string]string, len(cat.Families))
	for name, fam := range cat.Families {
		out[name] = fam.Mode
	}
	return out
}

func formatMs(ms int64) string { return strconv.FormatInt(ms, 10) }
