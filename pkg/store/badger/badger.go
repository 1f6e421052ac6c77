// Package badger implements the resource store on BadgerDB. It is the
// default backend: a single local directory, no external process, and
// crash-safe transactions.
//
// A database that fails to open is treated as corrupt, deleted, and
// recreated empty. Open then returns the fresh store together with a
// StorageCorruption error so callers can surface the data loss while
// continuing with a working cache.
package badger

import (
	"context"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// Store is a BadgerDB-backed implementation of store.Store.
type Store struct {
	db   *badgerdb.DB
	path string
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database directory at path.
//
// When the existing database cannot be opened it is removed and recreated
// empty; the returned error is then a StorageCorruption error and the
// returned store is still usable.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badgerdb.DefaultOptions(path).WithLogger(nil)

	db, err := badgerdb.Open(opts)
	if err == nil {
		return &Store{db: db, path: path}, nil
	}

	logger.Warn("resource store unreadable, resetting to empty",
		logger.KeyPath, path,
		logger.KeyError, err)

	if rmErr := os.RemoveAll(path); rmErr != nil {
		return nil, tverr.NewIOError("failed to remove corrupt store", rmErr)
	}
	db, openErr := badgerdb.Open(opts)
	if openErr != nil {
		return nil, tverr.NewIOError("failed to recreate store", openErr)
	}
	return &Store{db: db, path: path}, tverr.NewStorageCorruptionError(path, err)
}

// Pack runs value-log garbage collection until there is nothing left to
// rewrite. Best effort: a store with no reclaimable space is not an error.
func (s *Store) Pack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.RunValueLogGC(0.5)
		if err == badgerdb.ErrNoRewrite || err == badgerdb.ErrRejected {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// Healthcheck verifies the database can serve a read transaction.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.View(func(txn *badgerdb.Txn) error {
		return nil
	})
	if err != nil {
		return fmt.Errorf("healthcheck failed: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
