package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/internal/telemetry"
	"github.com/tilevault/tilevault/pkg/api"
	"github.com/tilevault/tilevault/pkg/config"
	"github.com/tilevault/tilevault/pkg/downloader"
	"github.com/tilevault/tilevault/pkg/engine"
	"github.com/tilevault/tilevault/pkg/metrics"
	"github.com/tilevault/tilevault/pkg/metrics/prometheus"
	"github.com/tilevault/tilevault/pkg/router"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the TileVault server",
	Long: `Start the TileVault server with the specified configuration.

By default, the server runs in the background (daemon mode). Use --foreground
to run in the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/tilevault/config.yaml.

Examples:
  # Start in background (default)
  tilevault start

  # Start in foreground
  tilevault start --foreground

  # Start with custom config file
  tilevault start --config /etc/tilevault/config.yaml

  # Start with environment variable overrides
  TILEVAULT_LOGGING_LEVEL=DEBUG tilevault start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/tilevault/tilevault.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/tilevault/tilevault.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the metrics registry before building the engine so the
	// component collectors can register against it
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	// Open the resource store
	st, err := config.CreateStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open resource store: %w", err)
	}

	// Build the origin fetchers
	if cfg.Downloader.UserAgent == "" {
		cfg.Downloader.UserAgent = "tilevault/" + Version
	}
	fetchers, err := config.CreateFetchers(ctx, cfg.Downloader)
	if err != nil {
		_ = st.Close()
		return err
	}

	// Wire the engine around the store
	eng := engine.New(engine.Config{
		MaxAmbientSize: cfg.Cache.MaxSize.Int64(),
		TileCountLimit: cfg.Cache.TileCountLimit,
		Downloader: downloader.Config{
			Workers:              cfg.Downloader.Workers,
			QueueDepth:           cfg.Downloader.QueueDepth,
			MaxRetries:           cfg.Downloader.MaxRetries,
			RetryInitialInterval: cfg.Downloader.RetryInitialInterval,
			RetryMaxInterval:     cfg.Downloader.RetryMaxInterval,
			RequestTimeout:       cfg.Downloader.RequestTimeout,
		},
		Router: router.Config{
			HotEntries:    cfg.Router.HotEntries,
			HotTTL:        cfg.Router.HotTTL,
			HotMaxPayload: cfg.Router.HotMaxPayload.Int64(),
		},
		Fetchers:          fetchers,
		CacheMetrics:      prometheus.NewCacheMetrics(),
		DownloaderMetrics: prometheus.NewDownloaderMetrics(),
		RegionMetrics:     prometheus.NewRegionMetrics(),
		RouterMetrics:     prometheus.NewRouterMetrics(),
	}, st)

	// Initialize OpenTelemetry (if enabled). The engine goes first so the
	// instance ID can be attached to the telemetry resource.
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "tilevault",
		ServiceVersion: Version,
		InstanceID:     eng.InstanceID(),
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		_ = eng.Close()
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "tilevault",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		_ = eng.Close()
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("TileVault - Offline map resource cache")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}
	if metrics.IsEnabled() {
		logger.Info("Metrics enabled", "endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.API.Port))
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Open the engine: demote regions left active by an unclean shutdown
	// and start the download workers
	if err := eng.Open(ctx); err != nil {
		_ = eng.Close()
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("engine close error", "error", err)
		}
	}()

	logger.Info("Resource store opened",
		"backend", cfg.Storage.Type,
		"ambient_limit", cfg.Cache.MaxSize.String(),
		"tile_count_limit", cfg.Cache.TileCountLimit)

	// Create the API server
	apiCfg := cfg.API
	apiCfg.Backend = cfg.Storage.Type
	srv, err := api.NewServer(apiCfg, eng)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	if apiCfg.AuthEnabled() {
		logger.Info("API authentication enabled", "token_ttl", apiCfg.Auth.TokenTTL)
	} else {
		logger.Warn("API authentication disabled; set api.auth.secret before exposing the server")
	}

	// Watch the config file and apply the live-tunable settings on change
	cfgPath := GetConfigFile()
	if cfgPath == "" {
		cfgPath = config.GetDefaultConfigPath()
	}
	watcher, err := config.Watch(cfgPath, func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Logging.Level)
		logger.SetFormat(newCfg.Logging.Format)

		// Applying a smaller budget evicts synchronously, so keep it off
		// the watcher goroutine
		go func() {
			if err := eng.SetMaximumAmbientCacheSize(ctx, newCfg.Cache.MaxSize.Int64()); err != nil {
				logger.Warn("failed to apply new ambient cache budget", "error", err)
			}
			eng.SetTileCountLimit(newCfg.Cache.TileCountLimit)
		}()
	})
	if err != nil {
		logger.Warn("config file watching disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
