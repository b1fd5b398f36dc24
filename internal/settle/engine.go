// Package settle is the wager settlement state machine shared by every game
// family. A family contributes only its evaluator; validation, accrual,
// ledger calls, compensation and idempotency live here.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xtding233/wager-backend/internal/accrual"
	"github.com/xtding233/wager-backend/internal/apperrors"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/game"
	"github.com/xtding233/wager-backend/internal/journal"
	"github.com/xtding233/wager-backend/internal/ledger"
	"github.com/xtding233/wager-backend/internal/metrics"
	"github.com/xtding233/wager-backend/internal/outcome"
	"github.com/xtding233/wager-backend/internal/session"
	"github.com/xtding233/wager-backend/internal/telemetry"
)

// State is a step of the settlement state machine.
type State string

const (
	StateReceived      State = "received"
	StateValidated     State = "validated"
	StateRoundResolved State = "round_resolved"
	StateEvaluated     State = "evaluated"
	StateLedgerPending State = "ledger_pending"
	StateSettled       State = "settled"
	StateFailed        State = "failed"
)

// Catalogs yields the live game catalog. *game.Reloader implements it.
type Catalogs interface {
	Catalog() *game.Catalog
}

type staticCatalog struct{ c *game.Catalog }

func (s staticCatalog) Catalog() *game.Catalog { return s.c }

// Static serves a fixed catalog.
func Static(c *game.Catalog) Catalogs { return staticCatalog{c} }

// Journal records attempts by idempotency key. *journal.Store implements it.
type Journal interface {
	Begin(ctx context.Context, e journal.Entry) (journal.Entry, bool, error)
	Advance(ctx context.Context, key, stage string) error
	Settle(ctx context.Context, key, classification string, payout decimal.Decimal, txRef string, result any) error
	Fail(ctx context.Context, key string, cause error) error
	MarkUnknown(ctx context.Context, key, txRef string, cause error) error
}

// Config wires an Engine. Metrics, RNG, Clock and Logger are optional.
type Config struct {
	Catalogs Catalogs
	Accrual  *accrual.Book
	Ledger   ledger.Ledger
	Journal  Journal
	Sessions *session.Store
	House    string // debit destination
	Metrics  *metrics.Recorder
	RNG      outcome.RandomSource
	Clock    func() time.Time
	Logger   *logrus.Entry
}

// Engine settles wagers and drives multi-step sessions.
type Engine struct {
	catalogs Catalogs
	book     *accrual.Book
	ledger   ledger.Ledger
	journal  Journal
	sessions *session.Store
	house    string
	metrics  *metrics.Recorder
	rng      outcome.RandomSource
	now      func() time.Time
	log      *logrus.Entry
	tracer   trace.Tracer
}

func New(cfg Config) *Engine {
	e := &Engine{
		catalogs: cfg.Catalogs,
		book:     cfg.Accrual,
		ledger:   cfg.Ledger,
		journal:  cfg.Journal,
		sessions: cfg.Sessions,
		house:    strings.ToLower(cfg.House),
		metrics:  cfg.Metrics,
		rng:      cfg.RNG,
		now:      cfg.Clock,
		log:      cfg.Logger,
		tracer:   telemetry.Tracer(),
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.rng == nil {
		e.rng = outcome.DefaultRNG()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return e
}

// Result is the outcome of a settled wager.
type Result struct {
	WagerID        string          `json:"wagerId"`
	Family         string          `json:"family"`
	RoundID        *int64          `json:"roundId,omitempty"`
	SessionID      string          `json:"sessionId,omitempty"`
	Outcome        any             `json:"outcome"`
	Selector       bet.Selector    `json:"selector"`
	Classification bet.Class       `json:"classification"`
	IsWin          bool            `json:"isWin"`
	IsPush         bool            `json:"isPush"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	Stake          decimal.Decimal `json:"stake"`
	Payout         decimal.Decimal `json:"payout"` // signed change to the player's balance
	LedgerTxRef    string          `json:"ledgerTxRef,omitempty"`
	Accrual        decimal.Decimal `json:"accrual"`
	Tier           string          `json:"tier"`
	Detail         string          `json:"detail,omitempty"`
}

// family looks up name and checks it is played in mode.
func (e *Engine) family(name string, modes ...string) (*game.Family, *game.Catalog, error) {
	cat := e.catalogs.Catalog()
	fam, ok := cat.Family(name)
	if !ok {
		return nil, nil, apperrors.WithMetadata(apperrors.CodeFamilyUnknown, "unknown game family",
			map[string]string{"family": name})
	}
	for _, m := range modes {
		if fam.Mode == m {
			return fam, cat, nil
		}
	}
	return nil, nil, apperrors.WithMetadata(apperrors.CodeModeMismatch, "family is not played this way",
		map[string]string{"family": name, "mode": fam.Mode})
}

func normalizePlayer(player string) (string, error) {
	if !common.IsHexAddress(player) {
		return "", apperrors.New(apperrors.CodePlayerInvalid, "player must be a hex address")
	}
	return strings.ToLower(player), nil
}

func checkStake(fam *game.Family, stake decimal.Decimal) error {
	if !stake.IsPositive() {
		return apperrors.New(apperrors.CodeStakeInvalid, "stake must be positive")
	}
	if stake.LessThan(fam.StakeMin) {
		return apperrors.WithMetadata(apperrors.CodeStakeInvalid, "stake below minimum",
			map[string]string{"min": fam.StakeMin.String()})
	}
	if fam.StakeMax.IsPositive() && stake.GreaterThan(fam.StakeMax) {
		return apperrors.WithMetadata(apperrors.CodeStakeInvalid, "stake above maximum",
			map[string]string{"max": fam.StakeMax.String()})
	}
	return nil
}

func checkSelector(g bet.Game, sel bet.Selector) error {
	if err := g.Validate(sel); err != nil {
		return apperrors.Wrap(apperrors.CodeSelectorInvalid, "invalid selector", err)
	}
	return nil
}

// checkFunds requires balance >= stake * MaxForfeit(sel). It mutates nothing.
func (e *Engine) checkFunds(ctx context.Context, g bet.Game, player string, stake decimal.Decimal, sel bet.Selector) error {
	start := e.now()
	balance, err := e.ledger.BalanceOf(ctx, player)
	e.metrics.LedgerLatency(string(ledger.OpBalance), start)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeLedgerFailed, "balance unavailable", err)
	}
	need := stake.Mul(g.MaxForfeit(sel))
	if balance.LessThan(need) {
		return apperrors.WithMetadata(apperrors.CodeInsufficientFunds, "balance does not cover the stake",
			map[string]string{"balance": balance.String(), "required": need.String()})
	}
	return nil
}

// attempt carries one wager through the state machine.
type attempt struct {
	key      string
	family   *game.Family
	tiers    accrual.Tiers
	player   string
	stake    decimal.Decimal
	selector bet.Selector
	roundID  *int64
	session  string
	log      *logrus.Entry
}

// journalKey is the attempt's key as stored, scoped to its player.
func (a *attempt) journalKey() string { return journal.ScopedKey(a.player, a.key) }

// matches reports whether a stored entry describes the same wager as a.
func (a *attempt) matches(prev journal.Entry) bool {
	return prev.Family == a.family.Name &&
		prev.Player == a.player &&
		prev.Stake.Equal(a.stake) &&
		prev.Selector == a.selector.String()
}

func (e *Engine) advance(ctx context.Context, a *attempt, s State) {
	a.log.WithField("state", s).Debug("wager transition")
	if err := e.journal.Advance(ctx, a.journalKey(), string(s)); err != nil {
		a.log.WithError(err).Warn("journal advance failed")
	}
}

// begin claims the idempotency key. When the key already belongs to another
// attempt, begin returns that attempt's stored result or the error a repeat
// must see.
func (e *Engine) begin(ctx context.Context, a *attempt) (*Result, bool, error) {
	prev, claimed, err := e.journal.Begin(ctx, journal.Entry{
		Key:      a.journalKey(),
		Family:   a.family.Name,
		Player:   a.player,
		RoundID:  a.roundID,
		Stake:    a.stake,
		Selector: a.selector.String(),
		Stage:    string(StateReceived),
	})
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.CodeInternal, "journal unavailable", err)
	}
	if claimed {
		a.log.WithField("state", StateReceived).Debug("wager transition")
		return nil, true, nil
	}
	meta := map[string]string{"wagerId": a.key}
	if !a.matches(prev) {
		a.log.WithFields(logrus.Fields{
			"stored_family": prev.Family,
			"stored_stake":  prev.Stake.String(),
		}).Warn("idempotency key reused for a different wager")
		return nil, false, apperrors.WithMetadata(apperrors.CodeKeyReused,
			"idempotency key already used for a different wager", meta)
	}
	switch prev.State {
	case journal.StateSettled:
		var res Result
		if err := json.Unmarshal(prev.Result, &res); err != nil {
			return nil, false, apperrors.Wrap(apperrors.CodeInternal, "stored result unreadable", err)
		}
		a.log.Info("replaying settled wager")
		return &res, false, nil
	case journal.StateUnknown:
		meta["txRef"] = prev.TxRef
		return nil, false, apperrors.WithMetadata(apperrors.CodeLedgerAmbiguous,
			"an earlier attempt with this key has an unconfirmed ledger outcome", meta)
	default:
		return nil, false, apperrors.WithMetadata(apperrors.CodeWagerInProgress,
			"an attempt with this key is in progress", meta)
	}
}

// commit runs accrual, the ledger call and compensation for an evaluated
// wager. No lock is held while the ledger call is in flight.
func (e *Engine) commit(ctx context.Context, a *attempt, shown any, res bet.Result) (Result, error) {
	total, err := e.book.Add(ctx, a.player, a.stake)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeInternal, "accrual unavailable", err)
	}
	e.advance(ctx, a, StateLedgerPending)

	delta := res.Delta(a.stake)
	txRef, err := e.applyLedger(ctx, a, delta)
	if err != nil {
		if _, cerr := e.book.Compensate(ctx, a.player, a.stake); cerr != nil {
			a.log.WithError(cerr).Error("accrual compensation failed")
		}
		if ledger.IsAmbiguous(err) {
			var le *ledger.Error
			ref := ""
			if errors.As(err, &le) {
				ref = le.TxRef
			}
			if merr := e.journal.MarkUnknown(ctx, a.journalKey(), ref, err); merr != nil {
				a.log.WithError(merr).Error("journal mark unknown failed")
			}
			a.log.WithError(err).WithField("tx_ref", ref).Error("ledger outcome ambiguous")
			return Result{}, apperrors.WrapWithMetadata(apperrors.CodeLedgerAmbiguous,
				"ledger outcome unknown", map[string]string{"wagerId": a.key, "txRef": ref}, err)
		}
		return Result{}, apperrors.Wrap(apperrors.CodeLedgerFailed, "ledger call failed", err)
	}

	result := Result{
		WagerID:        a.key,
		Family:         a.family.Name,
		RoundID:        a.roundID,
		SessionID:      a.session,
		Outcome:        shown,
		Selector:       a.selector,
		Classification: res.Class,
		IsWin:          res.IsWin(),
		IsPush:         res.IsPush(),
		Multiplier:     res.Multiplier,
		Stake:          a.stake,
		Payout:         delta,
		LedgerTxRef:    txRef,
		Accrual:        total,
		Tier:           a.tiers.Classify(total),
		Detail:         res.Detail,
	}
	e.record(ctx, a, result, txRef)
	a.log.WithFields(logrus.Fields{
		"state":          StateSettled,
		"classification": res.Class,
		"payout":         delta.String(),
		"tx_ref":         txRef,
	}).Info("wager settled")
	e.metrics.Settled(a.family.Name, res.Class.String())
	return result, nil
}

// record stores a settled result. The ledger call has already landed, so
// the wager is reported settled either way. An entry that cannot be written
// is marked unknown for an operator rather than left pending.
func (e *Engine) record(ctx context.Context, a *attempt, result Result, txRef string) {
	key := a.journalKey()
	class := result.Classification.String()
	err := e.journal.Settle(ctx, key, class, result.Payout, txRef, result)
	if err == nil {
		return
	}
	a.log.WithError(err).Warn("journal settle failed, retrying")
	if err = e.journal.Settle(ctx, key, class, result.Payout, txRef, result); err == nil {
		return
	}
	a.log.WithError(err).WithField("tx_ref", txRef).Error("journal settle failed")
	if merr := e.journal.MarkUnknown(ctx, key, txRef, errors.Join(errSettledUnrecorded, err)); merr != nil {
		a.log.WithError(merr).Error("journal mark unknown failed")
	}
}

var errSettledUnrecorded = errors.New("ledger call landed but the result was not recorded")

// applyLedger performs the single ledger operation for delta: a credit of
// the profit on a win, a debit of the forfeit on a loss, nothing otherwise.
func (e *Engine) applyLedger(ctx context.Context, a *attempt, delta decimal.Decimal) (string, error) {
	var op ledger.Op
	switch {
	case delta.IsPositive():
		op = ledger.OpCredit
	case delta.IsNegative():
		op = ledger.OpDebit
	default:
		return "", nil
	}

	ctx, span := e.tracer.Start(ctx, "ledger."+string(op), trace.WithAttributes(
		attribute.String("player", a.player),
		attribute.String("amount", delta.Abs().String()),
	))
	defer span.End()
	start := e.now()
	defer e.metrics.LedgerLatency(string(op), start)

	var (
		ref string
		err error
	)
	if op == ledger.OpCredit {
		ref, err = e.ledger.Credit(ctx, a.player, delta)
	} else {
		ref, err = e.ledger.Debit(ctx, a.player, e.house, delta.Neg())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger call failed")
	}
	return ref, err
}

// finish records a failed attempt and reports it.
func (e *Engine) finish(ctx context.Context, a *attempt, err error) error {
	code := apperrors.CodeOf(err)
	if code != apperrors.CodeLedgerAmbiguous {
		if jerr := e.journal.Fail(ctx, a.journalKey(), err); jerr != nil {
			a.log.WithError(jerr).Warn("journal fail failed")
		}
	}
	a.log.WithError(err).WithFields(logrus.Fields{"state": StateFailed, "code": code}).Warn("wager rejected")
	e.metrics.Rejected(a.family.Name, string(code))
	return err
}

// AccrualView is a player's accrued stake and tier.
type AccrualView struct {
	Player string          `json:"player"`
	Total  decimal.Decimal `json:"total"`
	Tier   string          `json:"tier"`
}

// Accrual reads player's accrued stake.
func (e *Engine) Accrual(ctx context.Context, player string) (AccrualView, error) {
	p, err := normalizePlayer(player)
	if err != nil {
		return AccrualView{}, err
	}
	total, err := e.book.Total(ctx, p)
	if err != nil {
		return AccrualView{}, apperrors.Wrap(apperrors.CodeInternal, "accrual unavailable", err)
	}
	return AccrualView{Player: p, Total: total, Tier: e.catalogs.Catalog().Tiers.Classify(total)}, nil
}
