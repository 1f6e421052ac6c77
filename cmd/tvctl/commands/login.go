package commands

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/internal/cli/credentials"
	"github.com/tilevault/tilevault/internal/cli/prompt"
	"github.com/tilevault/tilevault/pkg/apiclient"
)

var (
	loginServer string
	loginToken  string
	loginNoAuth bool
)

var loginCmd = &cobra.Command{
	Use:   "login [server-url]",
	Short: "Connect to a TileVault server",
	Long: `Connect to a TileVault server and store the connection.

Tokens are minted on the server host with 'tilevault token create'.
Servers without an auth secret accept unauthenticated requests; use
--no-auth to connect to those without a token.

On first login, you must specify the server URL. Subsequent logins will
use the stored server URL unless overridden.

Examples:
  # First login to a server
  tvctl login http://localhost:8080 --token <token>

  # Login prompting for the token
  tvctl login http://localhost:8080

  # Connect to a server without authentication
  tvctl login http://localhost:8080 --no-auth

  # Re-login to stored server
  tvctl login --token <token>`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "", "Server URL (required on first login)")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "Bearer token from 'tilevault token create'")
	loginCmd.Flags().BoolVar(&loginNoAuth, "no-auth", false, "Connect without a token (server has no auth secret)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	// Load credential store
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	// Determine server URL: positional argument, flag, then stored context
	serverURLStr := loginServer
	if len(args) > 0 {
		serverURLStr = args[0]
	}
	if serverURLStr == "" {
		ctx, err := store.GetCurrentContext()
		if err != nil || ctx == nil || ctx.ServerURL == "" {
			return fmt.Errorf("no server URL specified and no saved context found\n\n" +
				"Specify server URL:\n" +
				"  tvctl login http://localhost:8080")
		}
		serverURLStr = ctx.ServerURL
	}

	// Validate server URL
	parsedURL, err := url.Parse(serverURLStr)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsedURL.Scheme == "" {
		parsedURL.Scheme = "http"
		serverURLStr = parsedURL.String()
	}

	// Get token (prompt if not provided)
	token := loginToken
	if token == "" && !loginNoAuth {
		token, err = prompt.Secret("Token (leave empty for servers without auth)")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	// Verify the server is reachable before saving anything
	client := apiclient.New(serverURLStr)
	if token != "" {
		client.SetToken(token)
	}

	fmt.Printf("Connecting to %s...\n", serverURLStr)
	if err := client.Health(); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	// An authenticated endpoint confirms the token works, or that the
	// server is running without an auth secret.
	if _, err := client.GetStatus(); err != nil {
		if apiErr, ok := err.(*apiclient.APIError); ok && apiErr.IsAuthError() {
			if token == "" {
				return fmt.Errorf("server requires authentication\n\n" +
					"Mint a token on the server host:\n" +
					"  tilevault token create")
			}
			return fmt.Errorf("token rejected: %w", err)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	// Determine context name
	contextName := store.GetCurrentContextName()
	if contextName == "" {
		contextName = "default"
	}

	// Save credentials
	ctx := &credentials.Context{
		ServerURL: serverURLStr,
		Token:     token,
		ExpiresAt: tokenExpiry(token),
	}

	if err := store.SetContext(contextName, ctx); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	if err := store.UseContext(contextName); err != nil {
		return fmt.Errorf("failed to set current context: %w", err)
	}

	if token == "" {
		fmt.Printf("Connected to %s (no authentication)\n", serverURLStr)
	} else {
		fmt.Printf("Logged in to %s\n", serverURLStr)
	}
	fmt.Printf("Context: %s\n", contextName)
	fmt.Printf("Credentials saved to: %s\n", store.ConfigPath())

	return nil
}

// tokenExpiry extracts the expiry claim from a JWT without verifying the
// signature. The client only uses it to warn before the server would
// reject the token anyway. Returns the zero time for opaque tokens.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
