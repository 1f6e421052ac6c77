package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Struct tags cover range and enum checks; cross-field rules that tags
// cannot express are checked explicitly afterwards. Validation never
// mutates the config (normalization happens in ApplyDefaults).
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}

	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return err
	}

	if err := validateDownloader(&cfg.Downloader); err != nil {
		return err
	}

	// The proxy holds the response open while the origin fetch runs, so
	// the server write timeout has to outlast the per-request budget.
	if cfg.API.WriteTimeout <= cfg.API.RequestTimeout {
		return fmt.Errorf("api write_timeout (%s) must exceed request_timeout (%s)",
			cfg.API.WriteTimeout, cfg.API.RequestTimeout)
	}

	return nil
}

// validateStorage checks backend-specific requirements.
func validateStorage(cfg *StorageConfig) error {
	switch cfg.Type {
	case "badger", "sqlite":
		if cfg.Path == "" {
			return fmt.Errorf("storage path is required for the %s backend", cfg.Type)
		}
	case "postgres":
		if err := cfg.Postgres.Validate(); err != nil {
			return fmt.Errorf("postgres storage: %w", err)
		}
	}

	return nil
}

// validateTelemetry checks tracing and profiling requirements.
func validateTelemetry(cfg *TelemetryConfig) error {
	if cfg.Enabled && cfg.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
	}

	if cfg.Profiling.Enabled && cfg.Profiling.Endpoint == "" {
		return fmt.Errorf("profiling endpoint is required when profiling is enabled")
	}

	return nil
}

// validateDownloader checks retry interval consistency.
func validateDownloader(cfg *DownloaderConfig) error {
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		return fmt.Errorf("downloader retry_max_interval (%s) must not be below retry_initial_interval (%s)",
			cfg.RetryMaxInterval, cfg.RetryInitialInterval)
	}

	return nil
}
