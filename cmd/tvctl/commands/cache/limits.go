package cache

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/internal/bytesize"
	"github.com/tilevault/tilevault/pkg/apiclient"
)

var (
	limitsMaxAmbient string
	limitsTileCount  int64
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Adjust cache budgets",
	Long: `Adjust the ambient cache size budget and the offline tile quota.

Only the flags you pass change; the other budget keeps its current
value. Shrinking the ambient budget evicts immediately, so the command
can take a moment on large caches. A tile quota of 0 means unlimited.

Examples:
  # Shrink the ambient cache to 25MB
  tvctl cache limits --max-ambient-size 25MB

  # Cap offline downloads at 6000 tiles
  tvctl cache limits --tile-count-limit 6000

  # Remove the tile quota
  tvctl cache limits --tile-count-limit 0`,
	RunE: runLimits,
}

func init() {
	limitsCmd.Flags().StringVar(&limitsMaxAmbient, "max-ambient-size", "", "Ambient cache budget (e.g. 50MB, 2GB)")
	limitsCmd.Flags().Int64Var(&limitsTileCount, "tile-count-limit", 0, "Offline tile quota (0 = unlimited)")
}

func runLimits(cmd *cobra.Command, args []string) error {
	limits := &apiclient.CacheLimits{}

	if limitsMaxAmbient != "" {
		size, err := bytesize.Parse(limitsMaxAmbient)
		if err != nil {
			return fmt.Errorf("invalid --max-ambient-size: %w", err)
		}
		v := size.Int64()
		limits.MaxAmbientSize = &v
	}
	if cmd.Flags().Changed("tile-count-limit") {
		v := limitsTileCount
		limits.TileCountLimit = &v
	}

	if limits.MaxAmbientSize == nil && limits.TileCountLimit == nil {
		return fmt.Errorf("nothing to update: pass --max-ambient-size or --tile-count-limit")
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	maxAmbient, tileLimit, err := client.UpdateCacheLimits(limits)
	if err != nil {
		return fmt.Errorf("failed to update cache limits: %w", err)
	}

	quota := "unlimited"
	if tileLimit > 0 {
		quota = fmt.Sprintf("%d tiles", tileLimit)
	}
	cmdutil.PrintSuccessWithInfo("Cache limits updated",
		fmt.Sprintf("Ambient budget: %s", bytesize.Size(maxAmbient).String()),
		fmt.Sprintf("Tile quota:     %s", quota))
	return nil
}
