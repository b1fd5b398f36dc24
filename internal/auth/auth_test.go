package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtding233/wager-backend/internal/kv"
)

const addr = "0xAbCd000000000000000000000000000000000001"

func newSessions(t *testing.T, now func() time.Time) (*Sessions, kv.Store) {
	t.Helper()
	store, err := kv.NewMemory(kv.Options{Clock: now})
	require.NoError(t, err)
	return NewSessions(store, 0), store
}

func TestGrantResolve(t *testing.T) {
	ctx := context.Background()
	s, _ := newSessions(t, nil)

	ident, err := s.Grant(ctx, "sid", addr, "04ab")
	require.NoError(t, err)
	assert.Equal(t, "0xabcd000000000000000000000000000000000001", ident.Address)

	got, err := s.Resolve(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, ident, got)

	require.NoError(t, s.Revoke(ctx, "sid"))
	_, err = s.Resolve(ctx, "sid")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveRejects(t *testing.T) {
	ctx := context.Background()
	s, store := newSessions(t, nil)

	_, err := s.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = s.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.NoError(t, store.Set(ctx, Key("bad"), []byte(`{"address":"nope"}`), 0))
	_, err = s.Resolve(ctx, "bad")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = s.Grant(ctx, "sid", "0x123", "")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestGrantExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s, _ := newSessions(t, func() time.Time { return now })

	_, err := s.Grant(ctx, "sid", addr, "")
	require.NoError(t, err)
	now = now.Add(DefaultTTL)
	_, err = s.Resolve(ctx, "sid")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
