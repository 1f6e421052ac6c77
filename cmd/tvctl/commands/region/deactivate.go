package region

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
)

var deactivateCmd = &cobra.Command{
	Use:   "deactivate <region-id>",
	Short: "Pause a region's download",
	Long: `Deactivate a region, pausing its download.

Already downloaded resources stay in the store and keep serving
requests. Reactivating resumes where the download left off.

Examples:
  # Pause region 1
  tvctl region deactivate 1`,
	Args: cobra.ExactArgs(1),
	RunE: runDeactivate,
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	id, err := parseRegionID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if err := client.DeactivateRegion(id); err != nil {
		return fmt.Errorf("failed to deactivate region: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Region %d deactivated", id))
	return nil
}
