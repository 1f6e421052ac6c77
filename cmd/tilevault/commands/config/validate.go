package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tilevault/tilevault/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the TileVault configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  tilevault config validate

  # Validate specific config file
  tilevault config validate --config /etc/tilevault/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	// Get config path from parent's persistent flag
	configPath, _ := cmd.Flags().GetString("config")

	// Load and validate configuration
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	// Determine path for display
	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	// Additional validation checks
	var warnings []string

	if !cfg.API.AuthEnabled() {
		warnings = append(warnings, "API auth secret not configured - management API is open")
	}
	if cfg.Storage.Type == "memory" {
		warnings = append(warnings, "memory storage selected - offline regions will not survive a restart")
	}
	if cfg.Cache.TileCountLimit < 0 {
		warnings = append(warnings, "offline tile quota disabled - region downloads are unbounded")
	}

	// Print results
	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Storage backend: %s\n", cfg.Storage.Type)
	fmt.Printf("  API port:        %d\n", cfg.API.Port)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)
	fmt.Printf("  Ambient budget:  %s\n", cfg.Cache.MaxSize.String())
	fmt.Printf("  Tile quota:      %d\n", cfg.Cache.TileCountLimit)

	return nil
}
