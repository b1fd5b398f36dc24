// Package auth maps an auth session id to the player address it was granted
// for. Records live in the kv store at session:<id>.
package auth

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/xtding233/wager-backend/internal/kv"
)

// DefaultTTL is how long a granted session stays valid.
const DefaultTTL = 10 * time.Minute

var (
	ErrUnauthenticated = errors.New("auth: session unknown or expired")
	ErrInvalidAddress  = errors.New("auth: invalid address")
)

// Identity is a resolved auth session.
type Identity struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
}

// Key is the store key of auth session id.
func Key(id string) string { return "session:" + id }

// Sessions resolves and grants auth sessions.
type Sessions struct {
	kv  kv.Store
	ttl time.Duration
}

func NewSessions(store kv.Store, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Sessions{kv: store, ttl: ttl}
}

// Grant records that id acts for address. The address is stored lowercased.
func (s *Sessions) Grant(ctx context.Context, id, address, publicKey string) (Identity, error) {
	if strings.TrimSpace(id) == "" {
		return Identity{}, ErrUnauthenticated
	}
	if !common.IsHexAddress(address) {
		return Identity{}, ErrInvalidAddress
	}
	ident := Identity{Address: strings.ToLower(address), PublicKey: publicKey}
	raw, err := json.Marshal(ident)
	if err != nil {
		return Identity{}, errors.Wrap(err, "encode identity")
	}
	if err := s.kv.Set(ctx, Key(id), raw, s.ttl); err != nil {
		return Identity{}, errors.Wrapf(err, "grant %s", id)
	}
	return ident, nil
}

// Resolve returns the identity behind id.
func (s *Sessions) Resolve(ctx context.Context, id string) (Identity, error) {
	if strings.TrimSpace(id) == "" {
		return Identity{}, ErrUnauthenticated
	}
	raw, err := s.kv.Get(ctx, Key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return Identity{}, ErrUnauthenticated
	}
	if err != nil {
		return Identity{}, errors.Wrapf(err, "resolve %s", id)
	}
	var ident Identity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return Identity{}, errors.Wrapf(err, "decode identity %s", id)
	}
	if !common.IsHexAddress(ident.Address) {
		return Identity{}, ErrUnauthenticated
	}
	ident.Address = strings.ToLower(ident.Address)
	return ident, nil
}

// Revoke drops id.
func (s *Sessions) Revoke(ctx context.Context, id string) error {
	return s.kv.Del(ctx, Key(id))
}
