// Package cache implements ambient cache management commands for tvctl.
package cache

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for cache management.
var Cmd = &cobra.Command{
	Use:   "cache",
	Short: "Ambient cache management",
	Long: `Inspect and manage the ambient cache on the TileVault server.

The ambient cache holds resources fetched on demand, outside any
offline region, and evicts the least recently used entries once it is
over its size budget.

Examples:
  # Show cache usage
  tvctl cache stats

  # Drop every unlinked resource
  tvctl cache clear

  # Expire everything so the next request revalidates
  tvctl cache invalidate

  # Shrink the cache budget
  tvctl cache limits --max-ambient-size 25MB

  # Compact the storage backend
  tvctl cache pack`,
}

func init() {
	Cmd.AddCommand(statsCmd)
	Cmd.AddCommand(clearCmd)
	Cmd.AddCommand(invalidateCmd)
	Cmd.AddCommand(limitsCmd)
	Cmd.AddCommand(packCmd)
}
