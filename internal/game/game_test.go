package game

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtding233/wager-backend/internal/bet"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, "games", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

const testDefault = `
version: "t1"
families: [coinflip, slots]
stake:
  min: 1
session:
  ttl_seconds: 300
`

const testCoin = `
kind: coin
mode: round
round: { epoch_ms: 20000, lock_ms: 3000 }
coin: { multiplier: 1.8 }
`

const testSlots = `
kind: reels
mode: instant
stake: { max: 500 }
reels:
  symbols:
    - { name: cherry, weight: 30, multiplier: 3 }
    - { name: seven, weight: 2, multiplier: 51 }
`

func testDir(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, dir, "default.yaml", testDefault)
	writeFile(t, dir, "coinflip.yaml", testCoin)
	writeFile(t, dir, "slots.yaml", testSlots)
	return dir
}

func TestLoadShippedConfigs(t *testing.T) {
	cat, err := LoadCatalog(NewLoader(filepath.Join("..", "..", "configs")))
	require.NoError(t, err)
	assert.Equal(t, []string{"blackjack", "coinflip", "dragon", "dragon-classic", "horse", "roulette", "slots"}, cat.Names())
	assert.Equal(t, []string{"coinflip", "horse", "roulette"}, cat.Scheduler.Families())

	coin, ok := cat.Family("coinflip")
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, coin.Schedule.Epoch)
	assert.Equal(t, 3*time.Second, coin.Schedule.Lock)
	_, ok = coin.RoundGame()
	assert.True(t, ok)

	horse, _ := cat.Family("horse")
	race := horse.Game.(*bet.Race)
	assert.Equal(t, "horse", race.Seed)
	assert.Len(t, race.Entrants, 4)
	assert.True(t, race.Entrants[3].Multiplier.Equal(decimal.RequireFromString("4.5")))

	bj, _ := cat.Family("blackjack")
	assert.Equal(t, 600*time.Second, bj.SessionTTL)
	_, ok = bj.SessionGame()
	assert.True(t, ok)

	classic, _ := cat.Family("dragon-classic")
	assert.Equal(t, 300*time.Second, classic.SessionTTL)
	_, ok = classic.SessionGame()
	assert.True(t, ok)
	_, ok = classic.InstantGame()
	assert.False(t, ok)

	assert.Equal(t, "gold", cat.Tiers.Classify(decimal.NewFromInt(60_000)))
}

func TestMergeOverlaysFamily(t *testing.T) {
	dir := testDir(t)
	l := NewLoader(dir)
	raw, err := l.LoadMerged("slots")
	require.NoError(t, err)
	assert.Equal(t, "t1", raw.Version)
	require.NotNil(t, raw.Stake)
	assert.Equal(t, "1", raw.Stake.Min.String())
	assert.Equal(t, "500", raw.Stake.Max.String())
	assert.Nil(t, raw.Families)

	cat, err := LoadCatalog(l)
	require.NoError(t, err)
	slots, _ := cat.Family("slots")
	assert.Equal(t, "500", slots.StakeMax.String())
	assert.True(t, slots.Game.(*bet.Reels).PairReturn.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "regular", cat.Tiers.Classify(decimal.Zero))
}

func TestMissingFamilyIsFatal(t *testing.T) {
	dir := testDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "games", "slots.yaml")))
	_, err := LoadCatalog(NewLoader(dir))
	assert.True(t, errors.Is(err, ErrMissingFamily))

	_, err = LoadCatalog(NewLoader(t.TempDir()))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidateRawCollectsErrors(t *testing.T) {
	epoch, lock := int64(1000), int64(1000)
	neg := decimal.NewFromInt(-1)
	half := decimal.RequireFromString("0.5")
	err := ValidateRaw(RawConfig{
		Kind:  "wheel",
		Mode:  ModeRound,
		Round: &RoundConfig{EpochMs: &epoch, LockMs: &lock},
		Stake: &StakeConfig{Min: &neg},
		Wheel: &WheelConfig{Color: &half},
	})
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "config validation failed: "))
	for _, want := range []string{
		"round.lock_ms must be < round.epoch_ms",
		"stake.min must be > 0",
		"wheel.color must be >= 1",
		"wheel.number is required",
	} {
		assert.Contains(t, msg, want)
	}

	err = ValidateRaw(RawConfig{Kind: "cards", Mode: ModeRound, Round: &RoundConfig{EpochMs: &epoch},
		Cards: &CardsConfig{Win: &half, Premium: &half}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind=cards cannot run in mode=round")

	err = ValidateRaw(RawConfig{Kind: "dice", Mode: "later"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind must be one of")
	assert.Contains(t, err.Error(), "mode must be one of")
}

func TestValidateGateBuckets(t *testing.T) {
	three := decimal.NewFromInt(3)
	err := ValidateRaw(RawConfig{Kind: "gate", Mode: ModeInstant, Gate: &GateConfig{
		Buckets:   []GateBucketConfig{{MaxGap: 5, Multiplier: three}, {MaxGap: 3, Multiplier: three}},
		Otherwise: &three,
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate.buckets[1].max_gap must be ascending")
}

func TestValidateDefault(t *testing.T) {
	err := ValidateDefault(RawConfig{Families: []string{"a", "a", "../b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a" listed twice`)
	assert.Contains(t, err.Error(), `invalid name "../b"`)
	assert.Error(t, ValidateDefault(RawConfig{}))
}

func TestCompatible(t *testing.T) {
	dir := testDir(t)
	cur, err := LoadCatalog(NewLoader(dir))
	require.NoError(t, err)

	// payout change is fine
	writeFile(t, dir, "coinflip.yaml", strings.Replace(testCoin, "1.8", "1.9", 1))
	next, err := LoadCatalog(NewLoader(dir))
	require.NoError(t, err)
	assert.NoError(t, Compatible(cur, next))

	// schedule change is not
	writeFile(t, dir, "coinflip.yaml", strings.Replace(testCoin, "20000", "25000", 1))
	next, err = LoadCatalog(NewLoader(dir))
	require.NoError(t, err)
	err = Compatible(cur, next)
	assert.True(t, errors.Is(err, ErrIncompatibleReload))
	assert.Contains(t, err.Error(), "coinflip changed round schedule")
}

func TestReloaderKeepsCatalogOnBadReload(t *testing.T) {
	dir := testDir(t)
	l := NewLoader(dir)
	cat, err := LoadCatalog(l)
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()
	r := NewReloader(l, cat, logrus.NewEntry(logger))

	writeFile(t, dir, "coinflip.yaml", strings.Replace(testCoin, "1.8", "2.5", 1))
	require.NoError(t, r.Reload())
	coin, _ := r.Catalog().Family("coinflip")
	assert.True(t, coin.Game.(*bet.Coin).Multiplier.Equal(decimal.RequireFromString("2.5")))

	writeFile(t, dir, "coinflip.yaml", strings.Replace(testCoin, "3000", "4000", 1))
	require.Error(t, r.Reload())
	coin, _ = r.Catalog().Family("coinflip")
	assert.Equal(t, 3*time.Second, coin.Schedule.Lock)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	writeFile(t, dir, "coinflip.yaml", "kind: [")
	require.Error(t, r.Reload())
	assert.Same(t, coin, mustFamily(t, r.Catalog(), "coinflip"))
}

func mustFamily(t *testing.T, c *Catalog, name string) *Family {
	t.Helper()
	f, ok := c.Family(name)
	require.True(t, ok)
	return f
}

func TestFileWatcherTriggers(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "x.yaml", "a: 1")
	q := writeFile(t, dir, "y.yaml", "b: 1")
	changed := make(chan []string, 4)
	w := NewFileWatcher([]string{p, q}, 10*time.Millisecond, func(paths []string) { changed <- paths })
	w.Start()
	defer w.Stop()

	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(p, future, future))
	require.NoError(t, os.Chtimes(q, future, future))
	select {
	case got := <-changed:
		assert.NotEmpty(t, got)
		assert.Subset(t, []string{p, q}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not report the change")
	}
	w.Stop()
}
