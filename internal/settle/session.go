package settle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xtding233/wager-backend/internal/apperrors"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/game"
	"github.com/xtding233/wager-backend/internal/session"
)

// ActionSettle retries settlement of a finished session whose ledger call
// failed.
const ActionSettle = "settle"

// StartRequest opens a multi-step session.
type StartRequest struct {
	Family   string
	Player   string
	Stake    decimal.Decimal
	Selector bet.Selector
}

// ActRequest advances a session.
type ActRequest struct {
	Family    string
	SessionID string
	Player    string
	Action    string
}

// SessionView is what a player sees of a session.
type SessionView struct {
	SessionID string          `json:"sessionId"`
	Family    string          `json:"family"`
	Stage     session.Stage   `json:"stage"`
	State     any             `json:"state"`
	Actions   []string        `json:"actions"`
	Stake     decimal.Decimal `json:"stake"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Result    *Result         `json:"result,omitempty"`
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeSessionNotFound, "session not found or expired", err)
	case errors.Is(err, session.ErrNotOwned):
		return apperrors.Wrap(apperrors.CodeSessionNotOwned, "session belongs to another player", err)
	case errors.Is(err, session.ErrBusy):
		return apperrors.Wrap(apperrors.CodeSessionBusy, "session changed concurrently", err)
	default:
		return apperrors.Wrap(apperrors.CodeInternal, "session store unavailable", err)
	}
}

func view(rec session.Record, st bet.State) SessionView {
	v := SessionView{
		SessionID: rec.ID,
		Family:    rec.Family,
		Stage:     rec.Stage,
		Stake:     rec.Stake,
		ExpiresAt: rec.ExpiresAt,
		Actions:   []string{},
	}
	if st != nil {
		v.State = st.View()
		if rec.Stage == session.StageAwaitingAction {
			v.Actions = st.Actions()
		}
	}
	if rec.Stage == session.StageSettling {
		v.Actions = []string{ActionSettle}
	}
	return v
}

// StartSession validates the wager, checks funds and deals. A deal that
// already finishes the game is settled in the same call.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (SessionView, error) {
	ctx, span := e.tracer.Start(ctx, "settle.StartSession", trace.WithAttributes(
		attribute.String("family", req.Family),
	))
	defer span.End()

	fam, _, err := e.family(req.Family, game.ModeSession)
	if err != nil {
		return SessionView{}, err
	}
	g, ok := fam.SessionGame()
	if !ok {
		return SessionView{}, apperrors.New(apperrors.CodeInternal, "session family without a session evaluator")
	}
	player, err := normalizePlayer(req.Player)
	if err != nil {
		return SessionView{}, err
	}
	log := e.log.WithFields(logrus.Fields{"family": fam.Name, "player": player})
	reject := func(err error) (SessionView, error) {
		log.WithError(err).WithField("code", apperrors.CodeOf(err)).Warn("session rejected")
		e.metrics.Rejected(fam.Name, string(apperrors.CodeOf(err)))
		return SessionView{}, err
	}
	if err := checkStake(fam, req.Stake); err != nil {
		return reject(err)
	}
	if err := checkSelector(g, req.Selector); err != nil {
		return reject(err)
	}
	if err := e.checkFunds(ctx, g, player, req.Stake, req.Selector); err != nil {
		return reject(err)
	}

	st, err := g.Deal(e.rng, req.Selector)
	if err != nil {
		return reject(apperrors.Wrap(apperrors.CodeInternal, "deal failed", err))
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return reject(apperrors.Wrap(apperrors.CodeInternal, "encode state", err))
	}
	stage := session.StageAwaitingAction
	if st.Done() {
		stage = session.StageSettling
	}
	id := uuid.NewString()
	rec, err := e.sessions.Create(ctx, session.Record{
		ID:       id,
		WagerID:  sessionKey(id),
		Player:   player,
		Family:   fam.Name,
		Stage:    stage,
		Selector: req.Selector,
		State:    raw,
		Stake:    req.Stake,
	}, fam.SessionTTL)
	if err != nil {
		return reject(sessionError(err))
	}
	log.WithFields(logrus.Fields{"session_id": rec.ID, "stage": rec.Stage}).Info("session dealt")

	if stage == session.StageSettling {
		return e.finalize(ctx, fam, g, rec, st)
	}
	return view(rec, st), nil
}

// Act applies action to the caller's session. Reaching a finished state
// settles the session immediately.
func (e *Engine) Act(ctx context.Context, req ActRequest) (SessionView, error) {
	ctx, span := e.tracer.Start(ctx, "settle.Act", trace.WithAttributes(
		attribute.String("family", req.Family),
		attribute.String("session_id", req.SessionID),
		attribute.String("action", req.Action),
	))
	defer span.End()

	fam, g, rec, err := e.ownedSession(ctx, req.Family, req.SessionID, req.Player)
	if err != nil {
		return SessionView{}, err
	}
	st, err := g.DecodeState(rec.State)
	if err != nil {
		return SessionView{}, apperrors.Wrap(apperrors.CodeInternal, "stored state unreadable", err)
	}

	if rec.Stage == session.StageSettling {
		if req.Action != ActionSettle {
			return SessionView{}, apperrors.WithMetadata(apperrors.CodeActionInvalid,
				"session is finished and awaiting settlement", map[string]string{"allowed": ActionSettle})
		}
		return e.finalize(ctx, fam, g, rec, st)
	}

	next, err := g.Act(st, req.Action, e.rng)
	if err != nil {
		return SessionView{}, apperrors.Wrap(apperrors.CodeActionInvalid, "action not allowed", err)
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return SessionView{}, apperrors.Wrap(apperrors.CodeInternal, "encode state", err)
	}
	updated := rec
	updated.State = raw
	if next.Done() {
		updated.Stage = session.StageSettling
	}
	updated, err = e.sessions.Update(ctx, rec, updated)
	if err != nil {
		return SessionView{}, sessionError(err)
	}
	e.log.WithFields(logrus.Fields{
		"family":     fam.Name,
		"session_id": rec.ID,
		"action":     req.Action,
		"stage":      updated.Stage,
	}).Debug("session advanced")

	if updated.Stage == session.StageSettling {
		return e.finalize(ctx, fam, g, updated, next)
	}
	return view(updated, next), nil
}

// Session returns the caller's session.
func (e *Engine) Session(ctx context.Context, family, id, player string) (SessionView, error) {
	_, g, rec, err := e.ownedSession(ctx, family, id, player)
	if err != nil {
		return SessionView{}, err
	}
	st, err := g.DecodeState(rec.State)
	if err != nil {
		return SessionView{}, apperrors.Wrap(apperrors.CodeInternal, "stored state unreadable", err)
	}
	return view(rec, st), nil
}

func (e *Engine) ownedSession(ctx context.Context, family, id, player string) (*game.Family, bet.SessionGame, session.Record, error) {
	fam, _, err := e.family(family, game.ModeSession)
	if err != nil {
		return nil, nil, session.Record{}, err
	}
	g, ok := fam.SessionGame()
	if !ok {
		return nil, nil, session.Record{}, apperrors.New(apperrors.CodeInternal, "session family without a session evaluator")
	}
	rec, err := e.sessions.Load(ctx, id)
	if err != nil {
		return nil, nil, session.Record{}, sessionError(err)
	}
	if rec.Family != fam.Name {
		return nil, nil, session.Record{}, sessionError(session.ErrNotFound)
	}
	if err := rec.CheckOwner(player); err != nil {
		e.log.WithFields(logrus.Fields{"session_id": id, "player": player}).Warn("session access by non-owner")
		return nil, nil, session.Record{}, sessionError(err)
	}
	return fam, g, rec, nil
}

func sessionKey(id string) string { return "session:" + id }

// finalize settles a finished session with its reserved stake. On a ledger
// failure the session stays in StageSettling for a later settle action, and
// the returned view and error both carry its id.
func (e *Engine) finalize(ctx context.Context, fam *game.Family, g bet.SessionGame, rec session.Record, st bet.State) (SessionView, error) {
	cat := e.catalogs.Catalog()
	a := &attempt{
		key:      sessionKey(rec.ID),
		family:   fam,
		tiers:    cat.Tiers,
		player:   rec.Player,
		stake:    rec.Stake,
		selector: rec.Selector,
		session:  rec.ID,
	}
	a.log = e.log.WithFields(logrus.Fields{
		"family":     fam.Name,
		"player":     rec.Player,
		"wager_id":   a.key,
		"session_id": rec.ID,
	})

	// a failed settlement still hands back the session so the caller can
	// retry with the settle action
	pending := func(err error) (SessionView, error) {
		rec.Stage = session.StageSettling
		return view(rec, st), apperrors.Annotate(err, "sessionId", rec.ID)
	}

	replay, claimed, err := e.begin(ctx, a)
	if err != nil {
		return pending(err)
	}
	var res Result
	if claimed {
		start := e.now()
		e.advance(ctx, a, StateValidated)
		e.advance(ctx, a, StateRoundResolved)
		evaluated, err := g.Evaluate(st, rec.Selector)
		if err != nil {
			return pending(e.finish(ctx, a, apperrors.Wrap(apperrors.CodeInternal, "evaluation failed", err)))
		}
		e.advance(ctx, a, StateEvaluated)
		res, err = e.commit(ctx, a, st.View(), evaluated)
		e.metrics.SettleLatency(fam.Name, start)
		if err != nil {
			return pending(e.finish(ctx, a, err))
		}
	} else {
		res = *replay
	}

	if err := e.sessions.Delete(ctx, rec.ID); err != nil {
		a.log.WithError(err).Warn("settled session not deleted")
	}
	rec.Stage = session.StageSettled
	v := view(rec, st)
	v.Result = &res
	return v, nil
}
