// Package session persists multi-step game sessions in the kv store.
//
// A record is written once with SetNX and then only replaced by
// compare-and-swap against the exact bytes that were loaded, so two
// concurrent actions on one session cannot both advance it.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/kv"
)

const keyPrefix = "game_session:"

// Key is the store key of session id.
func Key(id string) string { return keyPrefix + id }

var (
	ErrNotFound = errors.New("session: not found")
	ErrExists   = errors.New("session: already exists")
	ErrBusy     = errors.New("session: modified concurrently")
	ErrNotOwned = errors.New("session: owned by another player")
)

// Stage tracks where a session is in its lifecycle.
type Stage string

const (
	StageDealing        Stage = "dealing"
	StageAwaitingAction Stage = "awaiting_action"
	// StageSettling is entered once the game is finished; a failed ledger call
	// leaves the session here until a settle action succeeds.
	StageSettling Stage = "settling"
	StageSettled  Stage = "settled"
)

// Record is one stored session.
type Record struct {
	ID        string          `json:"id"`
	WagerID   string          `json:"wagerId"`
	Player    string          `json:"player"`
	Family    string          `json:"family"`
	Stage     Stage           `json:"stage"`
	Selector  bet.Selector    `json:"selector"`
	State     json.RawMessage `json:"state"`
	Stake     decimal.Decimal `json:"stake"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`

	raw []byte
}

// CheckOwner fails with ErrNotOwned unless player owns r.
func (r Record) CheckOwner(player string) error {
	if !strings.EqualFold(r.Player, player) {
		return ErrNotOwned
	}
	return nil
}

// Store reads and writes session records.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store, now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Create stores rec as version 1 with the given lifetime. An empty ID is
// filled with a new uuid.
func (s *Store) Create(ctx context.Context, rec Record, ttl time.Duration) (Record, error) {
	if ttl <= 0 {
		return Record{}, errors.New("session: ttl must be positive")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now()
	rec.Player = strings.ToLower(rec.Player)
	rec.Version = 1
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(ttl)

	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, errors.Wrap(err, "encode session")
	}
	ok, err := s.kv.SetNX(ctx, Key(rec.ID), raw, ttl)
	if err != nil {
		return Record{}, errors.Wrapf(err, "create session %s", rec.ID)
	}
	if !ok {
		return Record{}, ErrExists
	}
	rec.raw = raw
	return rec, nil
}

// Load reads session id. Expired records are reported as ErrNotFound even if
// the backend has not evicted them yet.
func (s *Store) Load(ctx context.Context, id string) (Record, error) {
	raw, err := s.kv.Get(ctx, Key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "load session %s", id)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, errors.Wrapf(err, "decode session %s", id)
	}
	if !s.now().Before(rec.ExpiresAt) {
		return Record{}, ErrNotFound
	}
	rec.raw = raw
	return rec, nil
}

// Update replaces prev (as returned by Load, Create or Update) with next.
// It fails with ErrBusy if the stored record changed since prev was read.
func (s *Store) Update(ctx context.Context, prev, next Record) (Record, error) {
	if prev.raw == nil {
		return Record{}, errors.New("session: update from a record that was not loaded")
	}
	ttl := prev.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return Record{}, ErrNotFound
	}
	next.ID = prev.ID
	next.Player = prev.Player
	next.CreatedAt = prev.CreatedAt
	next.ExpiresAt = prev.ExpiresAt
	next.Version = prev.Version + 1

	raw, err := json.Marshal(next)
	if err != nil {
		return Record{}, errors.Wrap(err, "encode session")
	}
	ok, err := s.kv.CompareAndSwap(ctx, Key(prev.ID), prev.raw, raw, ttl)
	if err != nil {
		return Record{}, errors.Wrapf(err, "update session %s", prev.ID)
	}
	if !ok {
		return Record{}, ErrBusy
	}
	next.raw = raw
	return next, nil
}

// Delete removes session id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kv.Del(ctx, Key(id)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return errors.Wrapf(err, "delete session %s", id)
	}
	return nil
}
