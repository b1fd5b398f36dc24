package settle

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xtding233/wager-backend/internal/apperrors"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/game"
)

// Wager is a single-request bet on a round or instant family.
type Wager struct {
	Family   string
	Player   string // trusted address from the auth collaborator
	Stake    decimal.Decimal
	Selector bet.Selector
	// IdempotencyKey identifies the attempt; a new one is generated if empty.
	IdempotencyKey string
}

// Settle runs a wager through validation, outcome resolution, evaluation,
// accrual and the ledger. Validation failures mutate nothing. A ledger
// failure compensates the accrual before it is reported.
func (e *Engine) Settle(ctx context.Context, w Wager) (res Result, err error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "settle.Settle", trace.WithAttributes(
		attribute.String("family", w.Family),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
		}
		span.End()
	}()

	fam, cat, err := e.family(w.Family, game.ModeRound, game.ModeInstant)
	if err != nil {
		e.metrics.Rejected(w.Family, string(apperrors.CodeOf(err)))
		return Result{}, err
	}
	player, err := normalizePlayer(w.Player)
	if err != nil {
		e.metrics.Rejected(w.Family, string(apperrors.CodeOf(err)))
		return Result{}, err
	}
	defer e.metrics.SettleLatency(fam.Name, start)

	a := &attempt{
		key:      w.IdempotencyKey,
		family:   fam,
		tiers:    cat.Tiers,
		player:   player,
		stake:    w.Stake,
		selector: w.Selector,
	}
	if a.key == "" {
		a.key = uuid.NewString()
	}
	var roundGame bet.RoundGame
	if fam.Mode == game.ModeRound {
		var ok bool
		if roundGame, ok = fam.RoundGame(); !ok {
			return Result{}, apperrors.New(apperrors.CodeInternal, "round family without a round evaluator")
		}
		r, _ := cat.Scheduler.Current(fam.Name, start)
		a.roundID = &r.ID
	}
	a.log = e.log.WithFields(logrus.Fields{
		"family":   fam.Name,
		"player":   player,
		"wager_id": a.key,
	})
	if a.roundID != nil {
		a.log = a.log.WithField("round_id", *a.roundID)
	}
	span.SetAttributes(attribute.String("wager_id", a.key))

	replay, claimed, err := e.begin(ctx, a)
	if err != nil {
		e.metrics.Rejected(fam.Name, string(apperrors.CodeOf(err)))
		return Result{}, err
	}
	if !claimed {
		return *replay, nil
	}

	res, err = e.run(ctx, a, cat, roundGame)
	if err != nil {
		return Result{}, e.finish(ctx, a, err)
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, a *attempt, cat *game.Catalog, roundGame bet.RoundGame) (Result, error) {
	fam := a.family
	if err := checkStake(fam, a.stake); err != nil {
		return Result{}, err
	}
	if err := checkSelector(fam.Game, a.selector); err != nil {
		return Result{}, err
	}
	if roundGame != nil {
		r, _ := cat.Scheduler.Round(fam.Name, *a.roundID)
		if !r.IsBettingOpen(e.now()) {
			return Result{}, apperrors.WithMetadata(apperrors.CodeRoundLocked, "betting is closed for this round",
				map[string]string{"bettingClosesAt": formatMs(r.BettingClosesAt)})
		}
	}
	if err := e.checkFunds(ctx, fam.Game, a.player, a.stake, a.selector); err != nil {
		return Result{}, err
	}
	e.advance(ctx, a, StateValidated)

	var out bet.Outcome
	if roundGame != nil {
		out = roundGame.Resolve(*a.roundID)
	} else {
		g, ok := fam.InstantGame()
		if !ok {
			return Result{}, apperrors.New(apperrors.CodeInternal, "instant family without an instant evaluator")
		}
		var err error
		if out, err = g.Draw(e.rng); err != nil {
			return Result{}, apperrors.Wrap(apperrors.CodeInternal, "draw failed", err)
		}
	}
	e.advance(ctx, a, StateRoundResolved)

	res, err := fam.Game.Evaluate(out, a.selector)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeInternal, "evaluation failed", err)
	}
	e.advance(ctx, a, StateEvaluated)

	return e.commit(ctx, a, out, res)
}
