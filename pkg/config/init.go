package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the documented starter configuration written by
// InitConfig. Values shown uncommented are the defaults; commented
// entries document the less common knobs.
const sampleConfig = `# TileVault Configuration File
#
# Every value can be overridden with a TILEVAULT_ environment variable,
# e.g. TILEVAULT_LOGGING_LEVEL=DEBUG or TILEVAULT_API_AUTH_SECRET=...

logging:
  # Minimum level to output: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text or json
  format: text
  # Destination: stdout, stderr, or a file path
  output: stdout

# Maximum time to wait for in-flight downloads and connections on shutdown
shutdown_timeout: 30s

storage:
  # Resource store backend: memory, badger, sqlite, postgres
  type: badger
  # Data location for badger (directory) and sqlite (database file).
  # Defaults to the XDG data directory when omitted.
  # path: /var/lib/tilevault/store
  # postgres:
  #   host: localhost
  #   port: 5432
  #   database: tilevault
  #   user: tilevault
  #   password: ""

cache:
  # Ambient cache budget. Least recently used resources are evicted
  # beyond it. Offline region resources are exempt.
  max_size: 50MiB
  # Offline tile quota across all regions. Negative disables the cap.
  tile_count_limit: 6000

downloader:
  # Concurrent origin transfers
  workers: 4
  # Attempts for transiently failing fetches
  max_retries: 3
  # Per-attempt timeout
  request_timeout: 30s
  # Largest accepted origin payload
  max_payload_size: 64MiB
  # user_agent: tilevault/1.0
  # s3:
  #   enabled: true
  #   region: us-east-1

# router:
#   hot_entries: 512
#   hot_ttl: 1m
#   hot_max_payload: 256KiB

api:
  port: 8080
  # auth:
  #   # Bearer token auth for mutating endpoints. Empty leaves the API
  #   # open; set a secret of at least 32 characters when the server is
  #   # reachable beyond localhost.
  #   secret: ""
  #   token_ttl: 24h

metrics:
  # Prometheus metrics, served at /metrics on the API port
  enabled: false

telemetry:
  # OpenTelemetry tracing, exported over OTLP gRPC
  enabled: false
  # endpoint: localhost:4317
`

// InitConfig writes the starter configuration file to the default
// location. Returns the path written. Refuses to overwrite an existing
// file unless force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes the starter configuration file to an explicit
// path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s\n\n"+
				"Use --force to overwrite it", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600 to match SaveConfig: the file may later carry secrets.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
