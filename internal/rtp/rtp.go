// Package rtp estimates return-to-player of a game family by Monte Carlo
// simulation. Every trial stakes one unit; the sample is the signed balance
// change, so RTP = 1 + mean.
package rtp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/game"
	"github.com/xtding233/wager-backend/internal/outcome"
)

// Policy picks the next action of a session game.
type Policy func(st bet.State) string

// DefaultPolicy hits blackjack hands below 17 and otherwise takes the first
// offered action.
func DefaultPolicy(st bet.State) string {
	if cs, ok := st.(bet.CardsState); ok {
		if total, _ := bet.HandTotal(cs.Player); total < 17 {
			return bet.ActionHit
		}
		return bet.ActionStand
	}
	if acts := st.Actions(); len(acts) > 0 {
		return acts[0]
	}
	return ""
}

type Params struct {
	Family   *game.Family
	Selector bet.Selector
	Trials   int
	Seed     uint64
	Workers  int    // parallel workers, each with its own seeded stream
	Policy   Policy // session families only
}

type Report struct {
	Family    string         `json:"family"`
	Selector  string         `json:"selector"`
	Trials    int            `json:"trials"`
	RTP       float64        `json:"rtp"`
	HouseEdge float64        `json:"houseEdge"`
	Classes   map[string]int `json:"classes"`
	Stats     Stats          `json:"stats"`
}

var one = decimal.NewFromInt(1)

// Run simulates p.Trials wagers. A fixed Seed and Workers reproduce the
// same report.
func Run(ctx context.Context, p Params) (Report, error) {
	if p.Family == nil {
		return Report{}, errors.New("rtp: family is required")
	}
	if p.Trials <= 0 {
		return Report{}, errors.New("rtp: trials must be positive")
	}
	if err := p.Family.Game.Validate(p.Selector); err != nil {
		return Report{}, err
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > p.Trials {
		workers = p.Trials
	}
	if p.Policy == nil {
		p.Policy = DefaultPolicy
	}

	samples := make([]float64, p.Trials)
	classes := make([][]bet.Class, workers)
	per := (p.Trials + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo, hi := w*per, min((w+1)*per, p.Trials)
		g.Go(func() error {
			rng := outcome.NewSeededRNG(p.Seed + uint64(w))
			for i := lo; i < hi; i++ {
				if i%1024 == 0 && ctx.Err() != nil {
					return ctx.Err()
				}
				res, err := trial(p, rng)
				if err != nil {
					return fmt.Errorf("trial %d: %w", i, err)
				}
				samples[i] = res.Delta(one).InexactFloat64()
				classes[w] = append(classes[w], res.Class)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	counts := map[string]int{}
	for _, cs := range classes {
		for _, c := range cs {
			counts[c.String()]++
		}
	}
	st := calcStats(samples)
	return Report{
		Family:    p.Family.Name,
		Selector:  p.Selector.String(),
		Trials:    p.Trials,
		RTP:       1 + st.Mean,
		HouseEdge: -st.Mean,
		Classes:   counts,
		Stats:     st,
	}, nil
}

func trial(p Params, rng outcome.RandomSource) (bet.Result, error) {
	f := p.Family
	if g, ok := f.RoundGame(); ok {
		// hashed outcomes of arbitrary rounds stand in for fresh draws
		id := int64(rng.Float64() * math.MaxInt32 * 1000)
		return g.Evaluate(g.Resolve(id), p.Selector)
	}
	if g, ok := f.InstantGame(); ok {
		o, err := g.Draw(rng)
		if err != nil {
			return bet.Result{}, err
		}
		return g.Evaluate(o, p.Selector)
	}
	if g, ok := f.SessionGame(); ok {
		st, err := g.Deal(rng, p.Selector)
		if err != nil {
			return bet.Result{}, err
		}
		for steps := 0; !st.Done(); steps++ {
			if steps > 64 {
				return bet.Result{}, errors.New("session did not finish")
			}
			st, err = g.Act(st, p.Policy(st), rng)
			if err != nil {
				return bet.Result{}, err
			}
		}
		return g.Evaluate(st, p.Selector)
	}
	return bet.Result{}, fmt.Errorf("family %s has no playable game for mode %s", f.Name, f.Mode)
}
