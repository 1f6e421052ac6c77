package region

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
)

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <region-id>",
	Short: "Force revalidation of a region",
	Long: `Mark every resource in a region as expired.

Resources keep serving until fresh data arrives; the next download
pass revalidates them against the origin. Use this after a style or
tileset update to refresh an offline region without re-creating it.

Examples:
  # Invalidate region 1, then refresh it
  tvctl region invalidate 1
  tvctl region activate 1`,
	Args: cobra.ExactArgs(1),
	RunE: runInvalidate,
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	id, err := parseRegionID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if err := client.InvalidateRegion(id); err != nil {
		return fmt.Errorf("failed to invalidate region: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Region %d invalidated; resources revalidate on the next download pass", id))
	return nil
}
