package cache

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/internal/bytesize"
	"github.com/tilevault/tilevault/internal/cli/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache usage",
	Long: `Display ambient cache usage against its budgets.

Examples:
  # Show cache stats
  tvctl cache stats

  # Output as JSON
  tvctl cache stats -o json`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	stats, err := client.GetCacheStats()
	if err != nil {
		return fmt.Errorf("failed to get cache stats: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, stats)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, stats)
	default:
		quota := "unlimited"
		if stats.TileCountLimit > 0 {
			quota = fmt.Sprintf("%d", stats.TileCountLimit)
		}
		pairs := [][2]string{
			{"Ambient size", bytesize.Size(stats.AmbientSize).String()},
			{"Ambient budget", bytesize.Size(stats.MaxAmbientSize).String()},
			{"Linked tiles", fmt.Sprintf("%d", stats.LinkedTileCount)},
			{"Tile quota", quota},
			{"Hot entries", fmt.Sprintf("%d", stats.HotEntries)},
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}
