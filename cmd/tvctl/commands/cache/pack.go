package cache

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Compact the storage backend",
	Long: `Ask the storage backend to reclaim space from deleted resources.

What this does depends on the backend: BadgerDB runs value log
garbage collection, SQLite runs VACUUM. Potentially slow on large
stores; the server keeps serving requests while it runs.

Examples:
  # Compact the store
  tvctl cache pack`,
	RunE: runPack,
}

func runPack(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	fmt.Println("Compacting store (this can take a while)...")
	if err := client.PackStore(); err != nil {
		return fmt.Errorf("failed to pack store: %w", err)
	}

	cmdutil.PrintSuccess("Store compacted")
	return nil
}
