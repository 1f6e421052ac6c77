// Package sqlite implements the resource store on a single SQLite file via
// GORM and the pure-Go glebarez driver. It is the backend of choice when
// the cache must live in one relocatable file.
//
// A file that fails to open or migrate is treated as corrupt, deleted
// (along with its WAL sidecars), and recreated empty. Open then returns
// the fresh store together with a StorageCorruption error so callers can
// surface the data loss while continuing with a working cache.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// Store is a SQLite-backed implementation of store.Store.
type Store struct {
	db   *gorm.DB
	path string
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database file at path.
//
// When the existing file cannot be opened it is removed and recreated
// empty; the returned error is then a StorageCorruption error and the
// returned store is still usable.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, tverr.NewIOError("failed to create database directory", err)
	}

	db, err := openAndMigrate(path)
	if err == nil {
		return &Store{db: db, path: path}, nil
	}

	logger.Warn("resource store unreadable, resetting to empty",
		logger.KeyPath, path,
		logger.KeyError, err)

	if rmErr := removeDatabase(path); rmErr != nil {
		return nil, tverr.NewIOError("failed to remove corrupt store", rmErr)
	}
	db, openErr := openAndMigrate(path)
	if openErr != nil {
		return nil, tverr.NewIOError("failed to recreate store", openErr)
	}
	return &Store{db: db, path: path}, tverr.NewStorageCorruptionError(path, err)
}

func openAndMigrate(path string) (*gorm.DB, error) {
	// WAL keeps readers open during the single writer's transactions;
	// the busy timeout rides out short lock contention.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}
	return db, nil
}

// removeDatabase deletes the database file and its WAL sidecars.
func removeDatabase(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// convertNotFoundError maps gorm.ErrRecordNotFound onto the domain error.
func convertNotFoundError(err, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return err
}

// Pack reclaims free pages. VACUUM cannot run inside a transaction.
func (s *Store) Pack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// Healthcheck verifies the database answers a ping.
func (s *Store) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database file.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
