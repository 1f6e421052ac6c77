package region

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/internal/cli/output"
	"github.com/tilevault/tilevault/internal/cli/timeutil"
)

var getCmd = &cobra.Command{
	Use:   "get <region-id>",
	Short: "Show region details",
	Long: `Display the full definition and state of a region.

Examples:
  # Show region 1
  tvctl region get 1

  # Show as JSON
  tvctl region get 1 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	id, err := parseRegionID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	region, err := client.GetRegion(id)
	if err != nil {
		return fmt.Errorf("failed to get region: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, region)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, region)
	default:
		pairs := [][2]string{
			{"ID", fmt.Sprintf("%d", region.ID)},
			{"Name", cmdutil.EmptyOr(metadataName(region.Metadata), "-")},
			{"State", region.State},
			{"Completion", region.Completion},
			{"Style URL", region.Definition.StyleURL},
			{"Bounds", fmt.Sprintf("%.4f,%.4f to %.4f,%.4f",
				region.Definition.MinLat, region.Definition.MinLon,
				region.Definition.MaxLat, region.Definition.MaxLon)},
			{"Zoom", fmt.Sprintf("%d-%d", region.Definition.MinZoom, region.Definition.MaxZoom)},
			{"Pixel ratio", fmt.Sprintf("%.1f", region.Definition.PixelRatio)},
			{"Ideographs", cmdutil.BoolToYesNo(region.Definition.IncludeIdeographs)},
			{"Resources", fmt.Sprintf("%d", region.ManifestCount)},
			{"Errors", fmt.Sprintf("%d", region.ErroredResourceCount)},
			{"Created", region.CreatedAt.Local().Format(timeutil.LocalTimeFormat)},
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}
