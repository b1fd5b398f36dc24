package kv

import (
	"bytes"
	"context"
	"hash/maphash"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	defaultShards   = 16
	defaultCapacity = 1 << 16
)

func init() {
	Register("memory", func(opts Options) (Store, error) { return NewMemory(opts) })
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero: never
}

type memShard struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// Memory is an in-process store split into bounded shards. Keys in
// different shards never contend. A full shard drops only expired keys;
// when none have expired the write fails with ErrFull, so permanent keys
// such as accrual totals are never lost to eviction.
type Memory struct {
	opts   Options
	seed   maphash.Seed
	shards []*memShard
}

// NewMemory builds a memory store. Capacity bounds each shard.
func NewMemory(opts Options) (*Memory, error) {
	if opts.Shards <= 0 {
		opts.Shards = defaultShards
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	m := &Memory{opts: opts, seed: maphash.MakeSeed(), shards: make([]*memShard, opts.Shards)}
	for i := range m.shards {
		c, err := lru.New(opts.Capacity)
		if err != nil {
			return nil, errors.Wrap(err, "memory shard")
		}
		m.shards[i] = &memShard{cache: c}
	}
	return m, nil
}

func (m *Memory) shard(key string) *memShard {
	return m.shards[maphash.String(m.seed, key)%uint64(len(m.shards))]
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.opts.now().Add(ttl)
}

// live returns the unexpired entry for key. Caller holds s.mu.
func (m *Memory) live(s *memShard, key string) (memEntry, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return memEntry{}, false
	}
	e := v.(memEntry)
	if !e.expiresAt.IsZero() && !m.opts.now().Before(e.expiresAt) {
		s.cache.Remove(key)
		return memEntry{}, false
	}
	return e, true
}

// reserve makes room for key in s. Caller holds s.mu.
func (m *Memory) reserve(s *memShard, key string) error {
	if s.cache.Len() < m.opts.Capacity || s.cache.Contains(key) {
		return nil
	}
	now := m.opts.now()
	swept := 0
	for _, k := range s.cache.Keys() {
		v, ok := s.cache.Peek(k)
		if !ok {
			continue
		}
		if e := v.(memEntry); !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			s.cache.Remove(k)
			swept++
		}
	}
	if swept == 0 {
		m.opts.logger().WithField("key", key).Error("kv memory shard full")
		return errors.Wrapf(ErrFull, "set %q", key)
	}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := m.live(s, key)
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := m.reserve(s, key); err != nil {
		return err
	}
	s.cache.Add(key, memEntry{value: bytes.Clone(value), expiresAt: m.expiry(ttl)})
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := m.live(s, key); ok {
		return false, nil
	}
	if err := m.reserve(s, key); err != nil {
		return false, err
	}
	s.cache.Add(key, memEntry{value: bytes.Clone(value), expiresAt: m.expiry(ttl)})
	return true, nil
}

func (m *Memory) CompareAndSwap(_ context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := m.live(s, key)
	if !ok || !bytes.Equal(e.value, old) {
		return false, nil
	}
	s.cache.Add(key, memEntry{value: bytes.Clone(value), expiresAt: m.expiry(ttl)})
	return true, nil
}

func (m *Memory) IncrBy(_ context.Context, key string, delta decimal.Decimal) (decimal.Decimal, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := m.live(s, key)
	next, err := addDecimal(e.value, delta)
	if err != nil {
		return decimal.Zero, err
	}
	if err := m.reserve(s, key); err != nil {
		return decimal.Zero, err
	}
	s.cache.Add(key, memEntry{value: []byte(next.String()), expiresAt: e.expiresAt})
	return next, nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

func (m *Memory) Close() error { return nil }
