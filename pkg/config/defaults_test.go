package config

import (
	"testing"
	"time"

	"github.com/tilevault/tilevault/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Storage(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Storage.Type != "badger" {
		t.Errorf("Expected default storage type 'badger', got %q", cfg.Storage.Type)
	}
	if cfg.Storage.Path == "" {
		t.Error("Expected default storage path to be set for badger")
	}
}

func TestApplyDefaults_StoragePathPerBackend(t *testing.T) {
	// sqlite gets a database file, not a directory
	cfg := &Config{Storage: StorageConfig{Type: "sqlite"}}
	ApplyDefaults(cfg)
	if cfg.Storage.Path == "" {
		t.Error("Expected default storage path to be set for sqlite")
	}

	// memory needs no path
	cfg = &Config{Storage: StorageConfig{Type: "memory"}}
	ApplyDefaults(cfg)
	if cfg.Storage.Path != "" {
		t.Errorf("Expected no default path for memory backend, got %q", cfg.Storage.Path)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", cfg.API.ReadTimeout)
	}
	if cfg.API.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.API.IdleTimeout)
	}
	// The write timeout must outlast the request budget so proxied
	// origin fetches aren't cut off mid-response
	if cfg.API.WriteTimeout <= cfg.API.RequestTimeout {
		t.Errorf("Expected write timeout (%v) to exceed request timeout (%v)",
			cfg.API.WriteTimeout, cfg.API.RequestTimeout)
	}
}

func TestApplyDefaults_CacheBudgets(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Cache.MaxSize != 50*bytesize.MiB {
		t.Errorf("Expected default cache max_size 50Mi, got %v", cfg.Cache.MaxSize)
	}
	if cfg.Cache.TileCountLimit != 6000 {
		t.Errorf("Expected default tile count limit 6000, got %d", cfg.Cache.TileCountLimit)
	}

	// Negative means disabled and must survive defaulting
	cfg = &Config{Cache: CacheConfig{TileCountLimit: -1}}
	ApplyDefaults(cfg)
	if cfg.Cache.TileCountLimit != -1 {
		t.Errorf("Expected disabled tile count limit -1 to be preserved, got %d", cfg.Cache.TileCountLimit)
	}
}

func TestApplyDefaults_Downloader(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Downloader.Workers != 4 {
		t.Errorf("Expected default workers 4, got %d", cfg.Downloader.Workers)
	}
	if cfg.Downloader.QueueDepth != 64 {
		t.Errorf("Expected default queue depth 64, got %d", cfg.Downloader.QueueDepth)
	}
	if cfg.Downloader.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Downloader.MaxRetries)
	}
	if cfg.Downloader.RetryInitialInterval != 500*time.Millisecond {
		t.Errorf("Expected default retry initial interval 500ms, got %v", cfg.Downloader.RetryInitialInterval)
	}
	if cfg.Downloader.RetryMaxInterval != 10*time.Second {
		t.Errorf("Expected default retry max interval 10s, got %v", cfg.Downloader.RetryMaxInterval)
	}
	if cfg.Downloader.RequestTimeout != 30*time.Second {
		t.Errorf("Expected default request timeout 30s, got %v", cfg.Downloader.RequestTimeout)
	}
	if cfg.Downloader.MaxPayloadSize != 64*bytesize.MiB {
		t.Errorf("Expected default max payload size 64Mi, got %v", cfg.Downloader.MaxPayloadSize)
	}
	// UserAgent stays empty so the server can fill in the build version
	if cfg.Downloader.UserAgent != "" {
		t.Errorf("Expected empty default user agent, got %q", cfg.Downloader.UserAgent)
	}
}

func TestApplyDefaults_Router(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Router.HotEntries != 512 {
		t.Errorf("Expected default hot entries 512, got %d", cfg.Router.HotEntries)
	}
	if cfg.Router.HotTTL != time.Minute {
		t.Errorf("Expected default hot TTL 1m, got %v", cfg.Router.HotTTL)
	}
	if cfg.Router.HotMaxPayload != 256*bytesize.KiB {
		t.Errorf("Expected default hot max payload 256Ki, got %v", cfg.Router.HotMaxPayload)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: "/var/log/tilevault.log",
		},
		ShutdownTimeout: 60 * time.Second,
		Storage: StorageConfig{
			Type: "sqlite",
			Path: "/data/tiles.db",
		},
		Cache: CacheConfig{
			MaxSize:        bytesize.GiB,
			TileCountLimit: 100000,
		},
	}

	ApplyDefaults(cfg)

	// Verify explicit values were preserved
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit level 'DEBUG' to be preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit format 'json' to be preserved, got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/tilevault.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 60*time.Second {
		t.Errorf("Expected explicit timeout 60s to be preserved, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Storage.Path != "/data/tiles.db" {
		t.Errorf("Expected explicit storage path to be preserved, got %q", cfg.Storage.Path)
	}
	if cfg.Cache.MaxSize != bytesize.GiB {
		t.Errorf("Expected explicit cache max_size to be preserved, got %v", cfg.Cache.MaxSize)
	}
	if cfg.Cache.TileCountLimit != 100000 {
		t.Errorf("Expected explicit tile count limit to be preserved, got %d", cfg.Cache.TileCountLimit)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	// The default config should pass validation
	err := Validate(cfg)
	if err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}
