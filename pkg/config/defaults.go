package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tilevault/tilevault/internal/bytesize"
	"github.com/tilevault/tilevault/pkg/cache"
	"github.com/tilevault/tilevault/pkg/downloader"
	"github.com/tilevault/tilevault/pkg/engine"
	"github.com/tilevault/tilevault/pkg/router"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyStorageDefaults(&cfg.Storage)
	applyCacheDefaults(&cfg.Cache)
	applyDownloaderDefaults(&cfg.Downloader)
	applyRouterDefaults(&cfg.Router)
	cfg.API.ApplyDefaults()
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	// Apply profiling defaults
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyStorageDefaults sets storage backend defaults.
// The default backend is badger under the XDG data directory: a local
// persistent store that works with zero configuration.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Path == "" {
		switch cfg.Type {
		case "badger":
			cfg.Path = filepath.Join(getDataDir(), "store")
		case "sqlite":
			cfg.Path = filepath.Join(getDataDir(), "tilevault.db")
		}
		// memory and postgres don't use Path
	}

	if cfg.Type == "postgres" {
		cfg.Postgres.ApplyDefaults()
	}
}

// applyCacheDefaults sets cache budget defaults.
// TileCountLimit is only defaulted when zero: negative values mean the
// offline tile quota is disabled.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = bytesize.Size(cache.DefaultMaxSize)
	}
	if cfg.TileCountLimit == 0 {
		cfg.TileCountLimit = engine.DefaultTileCountLimit
	}
}

// applyDownloaderDefaults sets fetch scheduler defaults.
// UserAgent is left empty here: the server fills in tilevault/<version>
// at startup so the default tracks the build.
func applyDownloaderDefaults(cfg *DownloaderConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = downloader.DefaultWorkers
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = downloader.DefaultQueueDepth
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = downloader.DefaultMaxRetries
	}
	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = downloader.DefaultRetryInitialInterval
	}
	if cfg.RetryMaxInterval == 0 {
		cfg.RetryMaxInterval = downloader.DefaultRetryMaxInterval
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = downloader.DefaultRequestTimeout
	}
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = bytesize.Size(downloader.DefaultMaxPayloadSize)
	}
}

// applyRouterDefaults sets hot cache defaults.
func applyRouterDefaults(cfg *RouterConfig) {
	if cfg.HotEntries == 0 {
		cfg.HotEntries = router.DefaultHotEntries
	}
	if cfg.HotTTL == 0 {
		cfg.HotTTL = router.DefaultHotTTL
	}
	if cfg.HotMaxPayload == 0 {
		cfg.HotMaxPayload = bytesize.Size(router.DefaultHotMaxPayload)
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
