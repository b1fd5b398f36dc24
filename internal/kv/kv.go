// Package kv is the key-value store used for accrual totals, auth sessions
// and game sessions. Backends register themselves by name and are chosen at
// startup.
package kv

import (
	"context"
	"fmt"
	"hash/maphash"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound      = errors.New("kv: key not found")
	ErrNotNumber     = errors.New("kv: value is not a number")
	ErrUnknownDriver = errors.New("kv: unknown backend")
	// ErrFull is returned by the memory backend when a shard holds only live keys.
	ErrFull = errors.New("kv: store is full")
)

// Store is a byte-valued key-value store with per-key expiry.
// A ttl of zero means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes only when key is absent or expired.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndSwap replaces the value only if it still equals old.
	CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) (bool, error)
	// IncrBy adds delta to a decimal counter and returns the new value.
	// A missing key counts from zero; an existing expiry is kept.
	IncrBy(ctx context.Context, key string, delta decimal.Decimal) (decimal.Decimal, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// Options configures a backend.
type Options struct {
	Path     string           // data directory for disk backends
	Capacity int              // memory backend: max keys per shard
	Shards   int              // memory backend: shard count
	Clock    func() time.Time // expiry clock; defaults to time.Now
	Logger   *logrus.Entry
}

func (o Options) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

func (o Options) logger() *logrus.Entry {
	if o.Logger != nil {
		return o.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// Creator opens a backend.
type Creator func(opts Options) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Creator{}
)

// Register makes a backend available to Open. Registering a name twice panics.
func Register(name string, c Creator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("kv: backend %s registered twice", name))
	}
	registry[name] = c
}

// Backends lists registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Open opens the named backend.
func Open(backend string, opts Options) (Store, error) {
	registryMu.RLock()
	c, ok := registry[backend]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDriver, "backend %q", backend)
	}
	return c(opts)
}

func addDecimal(cur []byte, delta decimal.Decimal) (decimal.Decimal, error) {
	if len(cur) == 0 {
		return delta, nil
	}
	v, err := decimal.NewFromString(string(cur))
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrNotNumber, "%q", cur)
	}
	return v.Add(delta), nil
}

const keyStripes = 64

// keyLocks serialises read-modify-write sequences per key stripe.
type keyLocks struct {
	seed    maphash.Seed
	stripes [keyStripes]sync.Mutex
}

func newKeyLocks() *keyLocks { return &keyLocks{seed: maphash.MakeSeed()} }

func (k *keyLocks) lock(key string) func() {
	m := &k.stripes[maphash.String(k.seed, key)%keyStripes]
	m.Lock()
	return m.Unlock
}
