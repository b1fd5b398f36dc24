package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

func init() {
	Register("leveldb", func(opts Options) (Store, error) { return NewLevelDB(opts) })
}

// LevelDB stores keys in goleveldb. Values carry an 8-byte expiry prefix
// (unix ms, 0 = never); conditional writes are serialised by key stripe.
type LevelDB struct {
	opts  Options
	db    *leveldb.DB
	locks *keyLocks
}

// NewLevelDB opens the database under opts.Path, or an in-memory one when
// the path is empty.
func NewLevelDB(opts Options) (*LevelDB, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if opts.Path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(opts.Path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb open %s", opts.Path)
	}
	return &LevelDB{opts: opts, db: db, locks: newKeyLocks()}, nil
}

func (l *LevelDB) encode(value []byte, ttl time.Duration) []byte {
	var exp int64
	if ttl > 0 {
		exp = l.opts.now().Add(ttl).UnixMilli()
	}
	return encodeAt(value, exp)
}

func encodeAt(value []byte, exp int64) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, uint64(exp))
	copy(buf[8:], value)
	return buf
}

// read returns the live value and its expiry (unix ms).
func (l *LevelDB) read(key string) ([]byte, int64, error) {
	raw, err := l.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, errors.Wrapf(err, "leveldb get %s", key)
	}
	if len(raw) < 8 {
		return nil, 0, errors.Errorf("leveldb get %s: corrupt value", key)
	}
	exp := int64(binary.BigEndian.Uint64(raw))
	if exp != 0 && l.opts.now().UnixMilli() >= exp {
		return nil, 0, ErrNotFound
	}
	return raw[8:], exp, nil
}

func (l *LevelDB) Get(_ context.Context, key string) ([]byte, error) {
	v, _, err := l.read(key)
	return v, err
}

func (l *LevelDB) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	unlock := l.locks.lock(key)
	defer unlock()
	return errors.Wrapf(l.db.Put([]byte(key), l.encode(value, ttl), nil), "leveldb put %s", key)
}

func (l *LevelDB) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	unlock := l.locks.lock(key)
	defer unlock()
	_, _, err := l.read(key)
	if err == nil {
		return false, nil
	}
	if err != ErrNotFound {
		return false, err
	}
	if err := l.db.Put([]byte(key), l.encode(value, ttl), nil); err != nil {
		return false, errors.Wrapf(err, "leveldb put %s", key)
	}
	return true, nil
}

func (l *LevelDB) CompareAndSwap(_ context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	unlock := l.locks.lock(key)
	defer unlock()
	cur, _, err := l.read(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(cur, old) {
		return false, nil
	}
	if err := l.db.Put([]byte(key), l.encode(value, ttl), nil); err != nil {
		return false, errors.Wrapf(err, "leveldb put %s", key)
	}
	return true, nil
}

func (l *LevelDB) IncrBy(_ context.Context, key string, delta decimal.Decimal) (decimal.Decimal, error) {
	unlock := l.locks.lock(key)
	defer unlock()
	cur, exp, err := l.read(key)
	if err != nil && err != ErrNotFound {
		return decimal.Zero, err
	}
	next, err := addDecimal(cur, delta)
	if err != nil {
		return decimal.Zero, err
	}
	if err := l.db.Put([]byte(key), encodeAt([]byte(next.String()), exp), nil); err != nil {
		return decimal.Zero, errors.Wrapf(err, "leveldb put %s", key)
	}
	return next, nil
}

func (l *LevelDB) Del(_ context.Context, key string) error {
	unlock := l.locks.lock(key)
	defer unlock()
	return errors.Wrapf(l.db.Delete([]byte(key), nil), "leveldb delete %s", key)
}

func (l *LevelDB) Close() error { return l.db.Close() }
