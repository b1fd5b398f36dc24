package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/kv"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	backend, err := kv.NewMemory(kv.Options{Clock: c.Now})
	require.NoError(t, err)
	return NewStore(backend).WithClock(c.Now), c
}

func sample() Record {
	return Record{
		WagerID:  "w1",
		Player:   "0xABC",
		Family:   "blackjack",
		Stage:    StageAwaitingAction,
		Selector: bet.Selector{},
		State:    json.RawMessage(`{"player":[1,2]}`),
		Stake:    decimal.NewFromInt(10),
	}
}

func TestCreateLoadUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	rec, err := s.Create(ctx, sample(), time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "0xabc", rec.Player)

	loaded, err := s.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.JSONEq(t, `{"player":[1,2]}`, string(loaded.State))
	assert.True(t, loaded.Stake.Equal(decimal.NewFromInt(10)))

	next := loaded
	next.Stage = StageSettling
	updated, err := s.Update(ctx, loaded, next)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	again, err := s.Load(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StageSettling, again.Stage)
	assert.Equal(t, rec.ExpiresAt.Unix(), again.ExpiresAt.Unix())
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	rec := sample()
	rec.ID = "fixed"
	_, err := s.Create(ctx, rec, time.Minute)
	require.NoError(t, err)
	_, err = s.Create(ctx, rec, time.Minute)
	assert.ErrorIs(t, err, ErrExists)
}

func TestStaleUpdateIsBusy(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	rec, err := s.Create(ctx, sample(), time.Minute)
	require.NoError(t, err)

	a, err := s.Load(ctx, rec.ID)
	require.NoError(t, err)
	b, err := s.Load(ctx, rec.ID)
	require.NoError(t, err)

	na := a
	na.Stage = StageSettling
	_, err = s.Update(ctx, a, na)
	require.NoError(t, err)

	nb := b
	nb.State = json.RawMessage(`{"player":[1,2,3]}`)
	_, err = s.Update(ctx, b, nb)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestExpiredIsNotFound(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)
	rec, err := s.Create(ctx, sample(), time.Minute)
	require.NoError(t, err)

	c.Advance(time.Minute)
	_, err = s.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	next := rec
	next.Stage = StageSettled
	_, err = s.Update(ctx, rec, next)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAndOwnership(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	rec, err := s.Create(ctx, sample(), time.Minute)
	require.NoError(t, err)

	assert.NoError(t, rec.CheckOwner("0xabc"))
	assert.NoError(t, rec.CheckOwner("0xABC"))
	assert.ErrorIs(t, rec.CheckOwner("0xdef"), ErrNotOwned)

	require.NoError(t, s.Delete(ctx, rec.ID))
	_, err = s.Load(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, rec.ID))
}

func TestUpdateRequiresLoadedRecord(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Update(context.Background(), sample(), sample())
	assert.Error(t, err)
}
