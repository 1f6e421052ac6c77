package cache

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Expire every ambient resource",
	Long: `Mark every ambient resource as expired.

Nothing is deleted: resources keep serving, but the next request for
each one revalidates against the origin. Cheaper than 'cache clear'
when the origin supports conditional requests.

Examples:
  # Invalidate the ambient cache
  tvctl cache invalidate`,
	RunE: runInvalidate,
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if err := client.InvalidateCache(); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	cmdutil.PrintSuccess("Ambient cache invalidated; resources revalidate on next request")
	return nil
}
