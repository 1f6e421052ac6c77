package cache

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/internal/bytesize"
	"github.com/tilevault/tilevault/internal/cli/prompt"
)

var clearForce bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every unlinked resource",
	Long: `Delete every resource from the ambient cache.

Resources linked to offline regions are untouched. The next map view
over cleared areas fetches from the origin again.

Examples:
  # Clear the cache
  tvctl cache clear

  # Clear without confirmation
  tvctl cache clear --force`,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearForce, "force", "f", false, "Skip confirmation")
}

func runClear(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	confirmed, err := prompt.ConfirmWithForce("Clear the ambient cache?", clearForce)
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	freed, err := client.ClearCache()
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	cmdutil.PrintSuccessWithInfo("Ambient cache cleared",
		fmt.Sprintf("Freed: %s", bytesize.Size(freed).String()))
	return nil
}
