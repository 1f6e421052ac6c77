package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tilevault/tilevault/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample TileVault configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/tilevault/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  tilevault init

  # Initialize with custom path
  tilevault init --config /etc/tilevault/config.yaml

  # Force overwrite existing config
  tilevault init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: tilevault start")
	fmt.Printf("  3. Or specify custom config: tilevault start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  The management API starts without authentication. Before exposing")
	fmt.Println("  it beyond localhost, set a signing secret via environment variable:")
	fmt.Println("    # Generates a 64-character hex string (32 bytes of entropy)")
	fmt.Println("    export TILEVAULT_API_AUTH_SECRET=$(openssl rand -hex 32)")

	return nil
}
