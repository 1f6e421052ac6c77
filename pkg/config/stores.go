package config

import (
	"context"
	"fmt"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/downloader"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/store/badger"
	"github.com/tilevault/tilevault/pkg/store/memory"
	"github.com/tilevault/tilevault/pkg/store/postgres"
	"github.com/tilevault/tilevault/pkg/store/sqlite"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// CreateStore opens the resource store selected by the storage
// configuration.
//
// The local backends recover from corruption by resetting to an empty
// store; that outcome is logged here and the fresh store is returned as
// usable.
func CreateStore(ctx context.Context, cfg StorageConfig) (store.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil

	case "badger":
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger storage requires path to be set")
		}
		st, err := badger.Open(ctx, cfg.Path)
		if err != nil {
			if st != nil && tverr.IsCode(err, tverr.ErrStorageCorruption) {
				logCorruptionReset(cfg.Path, err)
				return st, nil
			}
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return st, nil

	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite storage requires path to be set")
		}
		st, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			if st != nil && tverr.IsCode(err, tverr.ErrStorageCorruption) {
				logCorruptionReset(cfg.Path, err)
				return st, nil
			}
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil

	case "postgres":
		// Copy so defaults applied here don't leak back into the config
		pg := cfg.Postgres
		pg.ApplyDefaults()
		if err := pg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid postgres config: %w", err)
		}
		st, err := postgres.Open(ctx, &pg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

// logCorruptionReset surfaces the data loss from a corrupt local store
// that was reset to empty. Offline regions are gone; the server still
// starts.
func logCorruptionReset(path string, err error) {
	logger.Warn("resource store was corrupt and has been reset to empty",
		logger.KeyPath, path,
		logger.KeyError, err)
}

// CreateFetchers builds the scheme-to-fetcher map for the downloader.
// http and https share one fetcher; s3 is added when enabled.
func CreateFetchers(ctx context.Context, cfg DownloaderConfig) (map[string]downloader.Fetcher, error) {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "tilevault/dev"
	}

	httpFetcher := downloader.NewHTTPFetcher(downloader.HTTPConfig{
		UserAgent:      userAgent,
		MaxPayloadSize: cfg.MaxPayloadSize.Int64(),
	})

	fetchers := map[string]downloader.Fetcher{
		"http":  httpFetcher,
		"https": httpFetcher,
	}

	if cfg.S3.Enabled {
		s3Fetcher, err := downloader.NewS3FetcherFromConfig(ctx, downloader.S3Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			MaxPayloadSize:  cfg.MaxPayloadSize.Int64(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 fetcher: %w", err)
		}
		fetchers["s3"] = s3Fetcher
	}

	return fetchers, nil
}
