package settle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtding233/wager-backend/internal/accrual"
	"github.com/xtding233/wager-backend/internal/apperrors"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/game"
	"github.com/xtding233/wager-backend/internal/journal"
	"github.com/xtding233/wager-backend/internal/kv"
	"github.com/xtding233/wager-backend/internal/ledger"
	"github.com/xtding233/wager-backend/internal/metrics"
	"github.com/xtding233/wager-backend/internal/outcome"
	"github.com/xtding233/wager-backend/internal/session"
)

const (
	alice = "0xA11CE00000000000000000000000000000000001"
	bob   = "0x0B0B000000000000000000000000000000000002"
	house = "0x00000000000000000000000000000000000000f0"
)

// swapRNG lets a test choose the next draws of an engine.
type swapRNG struct {
	mu  sync.Mutex
	src outcome.RandomSource
}

func (s *swapRNG) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Float64()
}

func (s *swapRNG) set(src outcome.RandomSource) {
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()
}

// deck makes drawCard return the given ranks in order.
func deck(ranks ...int) outcome.RandomSource {
	vals := make([]float64, 0, len(ranks)*2)
	for _, r := range ranks {
		vals = append(vals, (float64(r-1)+0.5)/13, 0)
	}
	return outcome.NewSequence(vals...)
}

type fixture struct {
	engine  *Engine
	cat     *game.Catalog
	ledger  *ledger.Memory
	book    *accrual.Book
	journal *journal.Store
	metrics *metrics.Recorder
	rng     *swapRNG
	logs    *test.Hook
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := game.LoadCatalog(game.NewLoader(filepath.Join("..", "..", "configs")))
	require.NoError(t, err)

	// 1s into a coinflip round; every round family has betting open here
	f := &fixture{now: time.UnixMilli(1_700_000_000_000 + 1_000)}
	clock := func() time.Time { return f.now }

	store, err := kv.NewMemory(kv.Options{Clock: clock})
	require.NoError(t, err)
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f.cat = cat
	f.ledger = ledger.NewMemory()
	f.book = accrual.NewBook(store)
	f.journal = j
	f.metrics = metrics.New()
	f.rng = &swapRNG{src: outcome.NewSeededRNG(7)}
	f.logs = hook
	f.engine = New(Config{
		Catalogs: Static(cat),
		Accrual:  f.book,
		Ledger:   f.ledger,
		Journal:  j,
		Sessions: session.NewStore(store).WithClock(clock),
		House:    house,
		Metrics:  f.metrics,
		RNG:      f.rng,
		Clock:    clock,
		Logger:   logrus.NewEntry(logger),
	})
	return f
}

func (f *fixture) fund(addr string, amount int64) {
	f.ledger.Fund(addr, decimal.NewFromInt(amount))
}

func (f *fixture) balance(t *testing.T, addr string) string {
	b, err := f.ledger.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	return b.String()
}

func (f *fixture) accrued(t *testing.T, addr string) string {
	total, err := f.book.Total(context.Background(), addr)
	require.NoError(t, err)
	return total.String()
}

// coinSides returns the winning and losing side of the current coinflip round.
func (f *fixture) coinSides(t *testing.T) (win, lose string) {
	fam, ok := f.cat.Family("coinflip")
	require.True(t, ok)
	g, ok := fam.RoundGame()
	require.True(t, ok)
	r, _ := f.cat.Scheduler.Current("coinflip", f.now)
	side := g.Resolve(r.ID).(bet.CoinOutcome).Side
	if side == "heads" {
		return "heads", "tails"
	}
	return "tails", "heads"
}

func requireCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.CodeOf(err), err.Error())
}

func TestSettleWinCreditsProfit(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	win, _ := f.coinSides(t)

	res, err := f.engine.Settle(context.Background(), Wager{
		Family:   "coinflip",
		Player:   alice,
		Stake:    decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: win},
	})
	require.NoError(t, err)
	assert.True(t, res.IsWin)
	assert.False(t, res.IsPush)
	assert.Equal(t, bet.Win, res.Classification)
	assert.Equal(t, "1.8", res.Multiplier.String())
	assert.Equal(t, "8", res.Payout.String())
	assert.Equal(t, "10", res.Accrual.String())
	assert.Equal(t, "regular", res.Tier)
	assert.NotEmpty(t, res.LedgerTxRef)
	assert.NotEmpty(t, res.WagerID)
	require.NotNil(t, res.RoundID)
	assert.Equal(t, int64(85_000_000), *res.RoundID)

	txs := f.ledger.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.OpCredit, txs[0].Op)
	assert.Equal(t, "8", txs[0].Amount.String())
	assert.Equal(t, "108", f.balance(t, alice))
	assert.Equal(t, "10", f.accrued(t, alice))
	assert.Equal(t, int64(1), f.metrics.Count("settle.coinflip.win"))

	entry, err := f.journal.Lookup(context.Background(), journal.ScopedKey(alice, res.WagerID))
	require.NoError(t, err)
	assert.Equal(t, journal.StateSettled, entry.State)
	assert.Equal(t, res.LedgerTxRef, entry.TxRef)
}

func TestSettleLossDebitsHouse(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	_, lose := f.coinSides(t)

	res, err := f.engine.Settle(context.Background(), Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: lose},
	})
	require.NoError(t, err)
	assert.Equal(t, bet.Loss, res.Classification)
	assert.Equal(t, "-10", res.Payout.String())
	assert.Equal(t, "90", f.balance(t, alice))
	assert.Equal(t, "10", f.balance(t, house))
	assert.Equal(t, ledger.OpDebit, f.ledger.Transactions()[0].Op)
}

func TestRoundPlayersShareFate(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.fund(bob, 100)
	sel := bet.Selector{Kind: "color", Value: "red"}

	a, err := f.engine.Settle(context.Background(), Wager{Family: "roulette", Player: alice, Stake: decimal.NewFromInt(5), Selector: sel})
	require.NoError(t, err)
	b, err := f.engine.Settle(context.Background(), Wager{Family: "roulette", Player: bob, Stake: decimal.NewFromInt(7), Selector: sel})
	require.NoError(t, err)
	assert.Equal(t, *a.RoundID, *b.RoundID)
	assert.Equal(t, a.Classification, b.Classification)
	assert.Equal(t, a.Outcome, b.Outcome)
}

func TestRoundLockedMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	r, _ := f.cat.Scheduler.Current("coinflip", f.now)
	f.now = time.UnixMilli(r.BettingClosesAt)

	_, err := f.engine.Settle(context.Background(), Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: "heads"},
	})
	requireCode(t, err, apperrors.CodeRoundLocked)
	assert.Equal(t, "0", f.accrued(t, alice))
	assert.Empty(t, f.ledger.Transactions())
	assert.Equal(t, int64(1), f.metrics.Count("error.coinflip.ROUND_LOCKED"))
}

func TestValidationFailures(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	heads := bet.Selector{Kind: "side", Value: "heads"}

	cases := []struct {
		name string
		w    Wager
		code apperrors.Code
	}{
		{"unknown family", Wager{Family: "poker", Player: alice, Stake: decimal.NewFromInt(1)}, apperrors.CodeFamilyUnknown},
		{"session family", Wager{Family: "blackjack", Player: alice, Stake: decimal.NewFromInt(1)}, apperrors.CodeModeMismatch},
		{"bad player", Wager{Family: "coinflip", Player: "alice", Stake: decimal.NewFromInt(1), Selector: heads}, apperrors.CodePlayerInvalid},
		{"zero stake", Wager{Family: "coinflip", Player: alice, Stake: decimal.Zero, Selector: heads}, apperrors.CodeStakeInvalid},
		{"over max", Wager{Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(100_001), Selector: heads}, apperrors.CodeStakeInvalid},
		{"bad selector", Wager{Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(1), Selector: bet.Selector{Kind: "side", Value: "edge"}}, apperrors.CodeSelectorInvalid},
		{"short balance", Wager{Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(101), Selector: heads}, apperrors.CodeInsufficientFunds},
	}
	for _, tc := range cases {
		_, err := f.engine.Settle(context.Background(), tc.w)
		requireCode(t, err, tc.code)
		assert.Equal(t, tc.code.Kind(), apperrors.From(err).Code.Kind(), tc.name)
	}
	assert.Equal(t, "0", f.accrued(t, alice))
	assert.Empty(t, f.ledger.Transactions())
}

func TestPillarNeedsDoubleBalance(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 15)
	_, err := f.engine.Settle(context.Background(), Wager{Family: "dragon", Player: alice, Stake: decimal.NewFromInt(10)})
	requireCode(t, err, apperrors.CodeInsufficientFunds)
	assert.Equal(t, apperrors.KindInsufficientFunds, apperrors.CodeOf(err).Kind())

	f.fund(alice, 20)
	f.rng.set(deck(3, 9, 3))
	res, err := f.engine.Settle(context.Background(), Wager{Family: "dragon", Player: alice, Stake: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, bet.Pillar, res.Classification)
	assert.Equal(t, "-20", res.Payout.String())
	assert.Equal(t, "0", f.balance(t, alice))
}

func TestInstantGateWin(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.rng.set(deck(3, 9, 6))

	res, err := f.engine.Settle(context.Background(), Wager{Family: "dragon", Player: alice, Stake: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Nil(t, res.RoundID)
	assert.Equal(t, bet.Win, res.Classification)
	assert.Equal(t, "1.2", res.Multiplier.String())
	assert.Equal(t, "2", res.Payout.String())
}

func TestLedgerFailureCompensatesAndAllowsRetry(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	win, _ := f.coinSides(t)
	w := Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: win}, IdempotencyKey: "retry-me",
	}

	f.ledger.FailNext(ledger.OpCredit, false)
	_, err := f.engine.Settle(context.Background(), w)
	requireCode(t, err, apperrors.CodeLedgerFailed)
	assert.True(t, apperrors.CodeOf(err).Retryable())
	assert.Equal(t, "0", f.accrued(t, alice))
	assert.Equal(t, "100", f.balance(t, alice))

	res, err := f.engine.Settle(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, "retry-me", res.WagerID)
	assert.Equal(t, "10", f.accrued(t, alice))
	assert.Equal(t, "108", f.balance(t, alice))
}

func TestAmbiguousLedgerBlocksKey(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	_, lose := f.coinSides(t)
	w := Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: lose}, IdempotencyKey: "lost-response",
	}

	f.ledger.FailNext(ledger.OpDebit, true)
	_, err := f.engine.Settle(context.Background(), w)
	requireCode(t, err, apperrors.CodeLedgerAmbiguous)
	assert.NotEmpty(t, apperrors.From(err).Metadata["txRef"])
	assert.Equal(t, "0", f.accrued(t, alice))

	_, err = f.engine.Settle(context.Background(), w)
	requireCode(t, err, apperrors.CodeLedgerAmbiguous)
	assert.Len(t, f.ledger.Transactions(), 1, "the repeat must not reach the ledger")

	entry, err := f.journal.Lookup(context.Background(), journal.ScopedKey(alice, "lost-response"))
	require.NoError(t, err)
	assert.Equal(t, journal.StateUnknown, entry.State)
}

func TestRepeatedKeyReplaysResult(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	win, _ := f.coinSides(t)
	w := Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: win}, IdempotencyKey: "once",
	}

	first, err := f.engine.Settle(context.Background(), w)
	require.NoError(t, err)
	// the replay is served even after betting closed
	f.now = f.now.Add(time.Hour)
	second, err := f.engine.Settle(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, first.LedgerTxRef, second.LedgerTxRef)
	assert.True(t, first.Payout.Equal(second.Payout))
	assert.Len(t, f.ledger.Transactions(), 1)
	assert.Equal(t, "10", f.accrued(t, alice))
}

func TestKeysAreScopedToPlayer(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.fund(bob, 100)
	win, lose := f.coinSides(t)
	ctx := context.Background()

	first, err := f.engine.Settle(ctx, Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: win}, IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	// bob's wager with the same key is his own, so it is validated on its own
	_, err = f.engine.Settle(ctx, Wager{
		Family: "roulette", Player: bob, Stake: decimal.NewFromInt(50),
		Selector: bet.Selector{Kind: "side", Value: lose}, IdempotencyKey: "k1",
	})
	requireCode(t, err, apperrors.CodeSelectorInvalid)
	assert.Equal(t, "100", f.balance(t, bob))
	assert.Equal(t, "0", f.accrued(t, bob))

	res, err := f.engine.Settle(ctx, Wager{
		Family: "coinflip", Player: bob, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: lose}, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, bet.Loss, res.Classification)
	assert.NotEqual(t, first.LedgerTxRef, res.LedgerTxRef)
	assert.Equal(t, "90", f.balance(t, bob))
	assert.Equal(t, "10", f.accrued(t, bob))
	assert.Equal(t, "108", f.balance(t, alice))
}

func TestReusedKeyWithDifferentWagerIsRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	win, lose := f.coinSides(t)
	ctx := context.Background()
	w := Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: win}, IdempotencyKey: "k1",
	}
	_, err := f.engine.Settle(ctx, w)
	require.NoError(t, err)

	bigger := w
	bigger.Stake = decimal.NewFromInt(20)
	other := w
	other.Selector = bet.Selector{Kind: "side", Value: lose}
	roulette := w
	roulette.Family = "roulette"
	roulette.Selector = bet.Selector{Kind: "color", Value: "red"}

	for _, reused := range []Wager{bigger, other, roulette} {
		_, err := f.engine.Settle(ctx, reused)
		requireCode(t, err, apperrors.CodeKeyReused)
		assert.Equal(t, "k1", apperrors.From(err).Metadata["wagerId"])
	}
	assert.Len(t, f.ledger.Transactions(), 1)
	assert.Equal(t, "10", f.accrued(t, alice))

	// the same stake written differently is still the same wager
	same := w
	same.Stake = decimal.RequireFromString("10.00")
	_, err = f.engine.Settle(ctx, same)
	require.NoError(t, err)
}

// flakyJournal fails the next settleFailures Settle calls.
type flakyJournal struct {
	*journal.Store
	mu             sync.Mutex
	settleFailures int
}

func (j *flakyJournal) Settle(ctx context.Context, key, classification string, payout decimal.Decimal, txRef string, result any) error {
	j.mu.Lock()
	fail := j.settleFailures > 0
	if fail {
		j.settleFailures--
	}
	j.mu.Unlock()
	if fail {
		return errors.New("disk I/O error")
	}
	return j.Store.Settle(ctx, key, classification, payout, txRef, result)
}

func TestJournalSettleIsRetried(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.engine.journal = &flakyJournal{Store: f.journal, settleFailures: 1}
	win, _ := f.coinSides(t)
	w := Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: win}, IdempotencyKey: "flaky",
	}

	first, err := f.engine.Settle(context.Background(), w)
	require.NoError(t, err)
	entry, err := f.journal.Lookup(context.Background(), journal.ScopedKey(alice, "flaky"))
	require.NoError(t, err)
	assert.Equal(t, journal.StateSettled, entry.State)

	again, err := f.engine.Settle(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, first.LedgerTxRef, again.LedgerTxRef)
	assert.Len(t, f.ledger.Transactions(), 1)
}

func TestUnrecordedSettlementIsMarkedUnknown(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	f.engine.journal = &flakyJournal{Store: f.journal, settleFailures: 2}
	win, _ := f.coinSides(t)
	w := Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: win}, IdempotencyKey: "unrecorded",
	}

	res, err := f.engine.Settle(context.Background(), w)
	require.NoError(t, err, "the ledger call landed")
	assert.Equal(t, "108", f.balance(t, alice))

	entry, err := f.journal.Lookup(context.Background(), journal.ScopedKey(alice, "unrecorded"))
	require.NoError(t, err)
	assert.Equal(t, journal.StateUnknown, entry.State)
	assert.Equal(t, res.LedgerTxRef, entry.TxRef)
	assert.Contains(t, entry.Error, "not recorded")

	_, err = f.engine.Settle(context.Background(), w)
	requireCode(t, err, apperrors.CodeLedgerAmbiguous)
	assert.Equal(t, res.LedgerTxRef, apperrors.From(err).Metadata["txRef"])
	assert.Len(t, f.ledger.Transactions(), 1)
}

func TestInProgressKeyIsRejected(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	_, _, err := f.journal.Begin(context.Background(), journal.Entry{
		Key: journal.ScopedKey(alice, "busy"), Family: "coinflip", Player: alice,
		Stake: decimal.NewFromInt(1), Selector: "side=heads",
	})
	require.NoError(t, err)

	_, err = f.engine.Settle(context.Background(), Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(1),
		Selector: bet.Selector{Kind: "side", Value: "heads"}, IdempotencyKey: "busy",
	})
	requireCode(t, err, apperrors.CodeWagerInProgress)
}

func TestConcurrentWagersAccrueEveryStake(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 1_000)
	_, lose := f.coinSides(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Settle(context.Background(), Wager{
				Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(1),
				Selector: bet.Selector{Kind: "side", Value: lose},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, "20", f.accrued(t, alice))
	assert.Equal(t, "980", f.balance(t, alice))
}

func TestTransitionsAreLogged(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, 100)
	_, err := f.engine.Settle(context.Background(), Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(1),
		Selector: bet.Selector{Kind: "side", Value: "heads"},
	})
	require.NoError(t, err)

	var states []State
	for _, e := range f.logs.AllEntries() {
		if s, ok := e.Data["state"].(State); ok {
			states = append(states, s)
		}
	}
	assert.Equal(t, []State{StateReceived, StateValidated, StateRoundResolved, StateEvaluated, StateLedgerPending, StateSettled}, states)
}

func TestRoundsAndAccrual(t *testing.T) {
	f := newFixture(t)
	status, err := f.engine.CurrentRound("horse")
	require.NoError(t, err)
	assert.Equal(t, "open", status.Current.Phase)
	assert.Nil(t, status.Current.Outcome)
	assert.Equal(t, "closed", status.Previous.Phase)
	require.NotNil(t, status.Previous.Outcome)
	race, ok := status.Previous.Outcome.(bet.RaceOutcome)
	require.True(t, ok)
	assert.Equal(t, status.Previous.ID, race.RoundID)

	_, err = f.engine.ClosedRound("horse", status.Current.ID)
	requireCode(t, err, apperrors.CodeRoundOpen)
	info, err := f.engine.ClosedRound("horse", status.Previous.ID)
	require.NoError(t, err)
	assert.Equal(t, status.Previous.Outcome, info.Outcome)

	_, err = f.engine.CurrentRound("slots")
	requireCode(t, err, apperrors.CodeModeMismatch)

	f.fund(alice, 100)
	_, err = f.engine.Settle(context.Background(), Wager{
		Family: "coinflip", Player: alice, Stake: decimal.NewFromInt(10),
		Selector: bet.Selector{Kind: "side", Value: "heads"},
	})
	require.NoError(t, err)
	acc, err := f.engine.Accrual(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "10", acc.Total.String())
	assert.Equal(t, "regular", acc.Tier)
	assert.Equal(t, "round", f.engine.Families()["coinflip"])
}
