package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tilevault/tilevault/internal/cli/timeutil"
	"github.com/tilevault/tilevault/pkg/api/auth"
	"github.com/tilevault/tilevault/pkg/config"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage management API tokens",
	Long: `Mint bearer tokens for the management API.

Tokens are signed with the api.auth.secret from the server configuration,
so this command runs on the server host, not remotely.`,
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new API token",
	Long: `Mint a bearer token signed with the configured API auth secret.

The token authorizes the management API (regions, cache, status). The
subject names the holder in server logs; it is not verified against
anything.

Examples:
  # Mint a token with the default lifetime from the config
  tilevault token create

  # Mint a token for a named client with a custom lifetime
  tilevault token create --subject ci-warmup --ttl 1h`,
	RunE: runTokenCreate,
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenSubject, "subject", "tvctl", "Subject recorded in the token")
	tokenCreateCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: api.auth.token_ttl from config)")
	tokenCmd.AddCommand(tokenCreateCmd)
}

func runTokenCreate(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if cfg.API.Auth.Secret == "" {
		return fmt.Errorf("no API auth secret configured\n\n"+
			"Set api.auth.secret in the config file or export it:\n"+
			"  export TILEVAULT_API_AUTH_SECRET=$(openssl rand -hex 32)\n\n"+
			"Without a secret the management API is open and needs no token")
	}

	svc, err := auth.NewService(cfg.API.Auth.Secret, cfg.API.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}

	token, expiresAt, err := svc.Mint(tokenSubject, tokenTTL)
	if err != nil {
		return fmt.Errorf("failed to mint token: %w", err)
	}

	fmt.Printf("Token for %q (expires %s):\n\n", tokenSubject, expiresAt.Local().Format(timeutil.LocalTimeFormat))
	fmt.Println(token)
	fmt.Println("\nUse it with:")
	fmt.Printf("  tvctl login http://localhost:%d --token <token>\n", cfg.API.Port)

	return nil
}
