package region

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
)

var activateCmd = &cobra.Command{
	Use:   "activate <region-id>",
	Short: "Start downloading a region",
	Long: `Activate a region so the server downloads its resources.

The download proceeds in the background; track it with
'tvctl region status <region-id> --watch'. Activating a region that is
already complete revalidates any expired resources.

Examples:
  # Activate region 1
  tvctl region activate 1`,
	Args: cobra.ExactArgs(1),
	RunE: runActivate,
}

func runActivate(cmd *cobra.Command, args []string) error {
	id, err := parseRegionID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if err := client.ActivateRegion(id); err != nil {
		return fmt.Errorf("failed to activate region: %w", err)
	}

	cmdutil.PrintSuccessWithInfo(fmt.Sprintf("Region %d activated", id),
		fmt.Sprintf("Watch progress with: tvctl region status %d --watch", id))
	return nil
}
