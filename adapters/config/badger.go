// Package config provides ConfigStore implementations: a BadgerDB-backed
// store for the device's durable settings partition and an in-memory store
// for tests.
package config

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/second-state/echokit-box/domain/repositories"
)

// Badger is a ConfigStore backed by BadgerDB v4.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Useful for testing
	// with a real badger engine.
	InMemory bool

	// Logger sets the badger logger. If nil, badger output is silenced.
	Logger badger.Logger
}

// NewBadger creates a BadgerDB-backed ConfigStore.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("config: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(nopLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

// Get implements repositories.ConfigStore.
func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, repositories.ErrKeyNotFound
	}
	return val, err
}

// Set implements repositories.ConfigStore.
func (b *Badger) Set(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// SetAll implements repositories.ConfigStore. All pairs land in a single
// badger transaction, so a commit interrupted by power loss is all-or-nothing.
func (b *Badger) SetAll(_ context.Context, pairs map[string][]byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for k, v := range pairs {
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete implements repositories.ConfigStore.
func (b *Badger) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Close implements repositories.ConfigStore.
func (b *Badger) Close() error {
	return b.db.Close()
}

// nopLogger silences badger's default logging.
type nopLogger struct{}

func (nopLogger) Errorf(string, ...interface{})   {}
func (nopLogger) Warningf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})    {}
func (nopLogger) Debugf(string, ...interface{})   {}
