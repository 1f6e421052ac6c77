package region

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/pkg/apiclient"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <region-id>",
	Short: "Delete a region",
	Long: `Delete an offline region.

Resources no longer linked to any region move into the ambient cache
and age out under its size budget. Active regions must be deactivated
before deletion.

Examples:
  # Delete region 1
  tvctl region delete 1

  # Delete without confirmation
  tvctl region delete 1 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	id, err := parseRegionID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	return cmdutil.RunDeleteWithConfirmation("Region", args[0], deleteForce, func() error {
		if err := client.DeleteRegion(id); err != nil {
			if apiErr, ok := err.(*apiclient.APIError); ok && apiErr.IsConflict() {
				return fmt.Errorf("region %d is active\n\n"+
					"Deactivate it first:\n"+
					"  tvctl region deactivate %d", id, id)
			}
			return fmt.Errorf("failed to delete region: %w", err)
		}
		return nil
	})
}
