package kv

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const badgerRetries = 16

func init() {
	Register("badger", func(opts Options) (Store, error) { return NewBadger(opts) })
}

// Badger stores keys in a badger database using its native TTL. Conditional
// writes run in optimistic transactions, serialised per key stripe inside the
// process and retried on conflict.
type Badger struct {
	db    *badger.DB
	locks *keyLocks
}

// NewBadger opens (or creates) the database under opts.Path.
func NewBadger(opts Options) (*Badger, error) {
	if opts.Path == "" {
		return nil, errors.New("badger: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(opts.logger().WithField("backend", "badger"))
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(err, "badger open %s", opts.Path)
	}
	return &Badger{db: db, locks: newKeyLocks()}, nil
}

func entry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// update retries fn while badger reports a transaction conflict.
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerRetries; i++ {
		err = b.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
	return err
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "badger get %s", key)
	}
	return out, nil
}

func (b *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry(key, value, ttl))
	})
	return errors.Wrapf(err, "badger set %s", key)
}

func (b *Badger) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	unlock := b.locks.lock(key)
	defer unlock()
	var written bool
	err := b.update(func(txn *badger.Txn) error {
		written = false
		_, err := txn.Get([]byte(key))
		switch err {
		case nil:
			return nil
		case badger.ErrKeyNotFound:
		default:
			return err
		}
		written = true
		return txn.SetEntry(entry(key, value, ttl))
	})
	if err != nil {
		return false, errors.Wrapf(err, "badger setnx %s", key)
	}
	return written, nil
}

func (b *Badger) CompareAndSwap(_ context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	unlock := b.locks.lock(key)
	defer unlock()
	var swapped bool
	err := b.update(func(txn *badger.Txn) error {
		swapped = false
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		cur, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, old) {
			return nil
		}
		swapped = true
		return txn.SetEntry(entry(key, value, ttl))
	})
	if err != nil {
		return false, errors.Wrapf(err, "badger cas %s", key)
	}
	return swapped, nil
}

func (b *Badger) IncrBy(_ context.Context, key string, delta decimal.Decimal) (decimal.Decimal, error) {
	unlock := b.locks.lock(key)
	defer unlock()
	var next decimal.Decimal
	err := b.update(func(txn *badger.Txn) error {
		var cur []byte
		var ttl time.Duration
		item, err := txn.Get([]byte(key))
		switch err {
		case nil:
			if cur, err = item.ValueCopy(nil); err != nil {
				return err
			}
			if exp := item.ExpiresAt(); exp > 0 {
				ttl = time.Until(time.Unix(int64(exp), 0))
				if ttl <= 0 {
					ttl = time.Second
				}
			}
		case badger.ErrKeyNotFound:
		default:
			return err
		}
		if next, err = addDecimal(cur, delta); err != nil {
			return err
		}
		return txn.SetEntry(entry(key, []byte(next.String()), ttl))
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "badger incrby %s", key)
	}
	return next, nil
}

func (b *Badger) Del(_ context.Context, key string) error {
	err := b.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return errors.Wrapf(err, "badger del %s", key)
}

func (b *Badger) Close() error { return b.db.Close() }
