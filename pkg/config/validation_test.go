package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	err := Validate(cfg)
	if err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidAPIPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = 70000 // Out of range

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Port = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_InvalidStorageType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Type = "etcd"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown storage type")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_MissingStoragePath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Type = "badger"
	cfg.Storage.Path = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing storage path")
	}
	errStr := strings.ToLower(err.Error())
	if !strings.Contains(errStr, "storage") || !strings.Contains(errStr, "path") {
		t.Errorf("Expected error about storage path, got: %v", err)
	}
}

func TestValidate_PostgresRequiresConnection(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.Type = "postgres"
	// Host, database, user all empty

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for empty postgres config")
	}
	if !strings.Contains(err.Error(), "postgres") {
		t.Errorf("Expected error to mention postgres, got: %v", err)
	}
}

func TestValidate_PostgresNotRequiredForOtherBackends(t *testing.T) {
	// A zero postgres section must not fail validation when another
	// backend is selected
	cfg := GetDefaultConfig()
	cfg.Storage.Type = "memory"
	cfg.Storage.Path = ""

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected memory backend with zero postgres section to validate, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "telemetry") && !strings.Contains(err.Error(), "endpoint") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = "localhost:4317"
	cfg.Telemetry.SampleRate = 1.5 // Out of range (should be 0.0-1.0)

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_RetryIntervalOrdering(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Downloader.RetryInitialInterval = 5 * time.Second
	cfg.Downloader.RetryMaxInterval = time.Second

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for retry_max_interval below retry_initial_interval")
	}
	if !strings.Contains(err.Error(), "retry_max_interval") {
		t.Errorf("Expected error about retry_max_interval, got: %v", err)
	}
}

func TestValidate_WriteTimeoutBelowRequestTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.WriteTimeout = 5 * time.Second
	cfg.API.RequestTimeout = 30 * time.Second

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for write_timeout below request_timeout")
	}
	if !strings.Contains(err.Error(), "write_timeout") {
		t.Errorf("Expected error about write_timeout, got: %v", err)
	}
}

func TestValidate_ShortAuthSecret(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.Auth.Secret = "too-short"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for auth secret below 32 characters")
	}
	if !strings.Contains(err.Error(), "min") {
		t.Errorf("Expected 'min' validation error, got: %v", err)
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	// Test that validation accepts both uppercase and lowercase log levels
	testCases := []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"}

	for _, level := range testCases {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		err := Validate(cfg)
		if err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}

		// Validation should NOT normalize - level should remain as-is
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}

	// Test that normalization happens in ApplyDefaults
	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	ApplyDefaults(cfg)
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected ApplyDefaults to normalize 'info' to 'INFO', got %q", cfg.Logging.Level)
	}
}
