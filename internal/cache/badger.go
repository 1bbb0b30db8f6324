package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/amoylab/evalcoach/internal/common/config"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerStore keeps entries in an embedded badger database.
type BadgerStore struct {
	logger *zap.Logger
	db     *badger.DB
	codec  codec
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens the database at cfg.Path, or a memory-only one.
func NewBadgerStore(logger *zap.Logger, cfg config.BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Path, err)
	}
	return &BadgerStore{
		logger: logger.Named("cache.store.badger"),
		db:     db,
		codec:  codec{compress: cfg.Compress},
	}, nil
}

// Get implements Store.Get
func (s *BadgerStore) Get(_ context.Context, key string) (*Entry, error) {
	var e *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			e, derr = s.codec.decode(key, val)
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Set implements Store.Set
func (s *BadgerStore) Set(_ context.Context, key string, e *Entry) error {
	data, err := s.codec.encode(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Upgrade implements Store.Upgrade as a read-then-write transaction. Badger
// aborts the commit with ErrConflict when another writer got there first.
func (s *BadgerStore) Upgrade(ctx context.Context, key string, e *Entry) (bool, error) {
	data, err := s.codec.encode(e)
	if err != nil {
		return false, err
	}

	for {
		var written bool
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				var deeper bool
				if err := item.Value(func(val []byte) error {
					old, derr := s.codec.decode(key, val)
					if derr != nil {
						return derr
					}
					deeper = old.Depth > e.Depth
					return nil
				}); err != nil {
					s.logger.Warn("replacing unreadable cache entry", zap.String("key", key), zap.Error(err))
				}
				if deeper {
					return nil
				}
			}
			written = true
			return txn.Set([]byte(key), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return written && err == nil, err
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
	}
}

// Clear implements Store.Clear
func (s *BadgerStore) Clear(_ context.Context) error {
	return s.db.DropAll()
}

// Close implements Store.Close
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
