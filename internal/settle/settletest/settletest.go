// Package settletest builds a fully wired in-memory Engine for transport
// tests: shipped game configs, memory kv and ledger, a temp-dir journal and
// a settable clock.
package settletest

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/xtding233/wager-backend/internal/accrual"
	"github.com/xtding233/wager-backend/internal/auth"
	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/game"
	"github.com/xtding233/wager-backend/internal/journal"
	"github.com/xtding233/wager-backend/internal/kv"
	"github.com/xtding233/wager-backend/internal/ledger"
	"github.com/xtding233/wager-backend/internal/metrics"
	"github.com/xtding233/wager-backend/internal/outcome"
	"github.com/xtding233/wager-backend/internal/session"
	"github.com/xtding233/wager-backend/internal/settle"
)

// Start is 1s into a round of every shipped round family.
var Start = time.UnixMilli(1_700_000_000_000 + 1_000)

// Harness is a wired engine plus handles on its collaborators.
type Harness struct {
	Engine  *settle.Engine
	Catalog *game.Catalog
	Ledger  *ledger.Memory
	Accrual *accrual.Book
	Auth    *auth.Sessions
	Metrics *metrics.Recorder
	Logger  *logrus.Logger
	Logs    *test.Hook

	mu  sync.Mutex
	now time.Time
	rng outcome.RandomSource
}

// ConfigDir is the repository's configs directory.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "configs")
}

func New(t testing.TB) *Harness {
	t.Helper()
	cat, err := game.LoadCatalog(game.NewLoader(ConfigDir()))
	require.NoError(t, err)

	h := &Harness{Catalog: cat, now: Start, rng: outcome.NewSeededRNG(1)}
	store, err := kv.NewMemory(kv.Options{Clock: h.Now})
	require.NoError(t, err)
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	h.Logger, h.Logs = test.NewNullLogger()
	h.Ledger = ledger.NewMemory()
	h.Accrual = accrual.NewBook(store)
	h.Auth = auth.NewSessions(store, time.Hour)
	h.Metrics = metrics.New()
	h.Engine = settle.New(settle.Config{
		Catalogs: settle.Static(cat),
		Accrual:  h.Accrual,
		Ledger:   h.Ledger,
		Journal:  j,
		Sessions: session.NewStore(store).WithClock(h.Now),
		House:    "0x00000000000000000000000000000000000000f0",
		Metrics:  h.Metrics,
		RNG:      h,
		Clock:    h.Now,
		Logger:   logrus.NewEntry(h.Logger),
	})
	return h
}

func (h *Harness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *Harness) SetNow(t time.Time) {
	h.mu.Lock()
	h.now = t
	h.mu.Unlock()
}

// Float64 makes the harness the engine's RandomSource.
func (h *Harness) Float64() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64()
}

// Deal makes the next card draws return ranks in order.
func (h *Harness) Deal(ranks ...int) {
	vals := make([]float64, 0, len(ranks)*2)
	for _, r := range ranks {
		vals = append(vals, (float64(r-1)+0.5)/13, 0)
	}
	h.mu.Lock()
	h.rng = outcome.NewSequence(vals...)
	h.mu.Unlock()
}

// Player funds addr and grants it auth session sid.
func (h *Harness) Player(t testing.TB, sid, addr string, balance int64) {
	t.Helper()
	h.Ledger.Fund(addr, decimal.NewFromInt(balance))
	_, err := h.Auth.Grant(context.Background(), sid, addr, "")
	require.NoError(t, err)
}

// CoinSides returns the winning and losing side of the current coinflip round.
func (h *Harness) CoinSides(t testing.TB) (win, lose string) {
	t.Helper()
	fam, ok := h.Catalog.Family("coinflip")
	require.True(t, ok)
	g, ok := fam.RoundGame()
	require.True(t, ok)
	r, _ := h.Catalog.Scheduler.Current("coinflip", h.Now())
	if g.Resolve(r.ID).(bet.CoinOutcome).Side == "heads" {
		return "heads", "tails"
	}
	return "tails", "heads"
}
