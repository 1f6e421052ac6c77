package region

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/internal/bytesize"
	"github.com/tilevault/tilevault/internal/cli/output"
	"github.com/tilevault/tilevault/pkg/apiclient"
)

var (
	statusWatch    bool
	statusInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <region-id>",
	Short: "Show region download progress",
	Long: `Display the download progress of a region.

With --watch, polls the server until the download reaches a terminal
phase (complete, complete with errors, quota exceeded, or inactive).

Examples:
  # One-shot progress snapshot
  tvctl region status 1

  # Follow the download until it finishes
  tvctl region status 1 --watch

  # Poll every 10 seconds
  tvctl region status 1 --watch --interval 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runRegionStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Poll until the download reaches a terminal phase")
	statusCmd.Flags().DurationVar(&statusInterval, "interval", 2*time.Second, "Poll interval for --watch")
}

func runRegionStatus(cmd *cobra.Command, args []string) error {
	id, err := parseRegionID(args[0])
	if err != nil {
		return err
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	if statusWatch {
		return watchRegion(client, id)
	}

	status, err := client.GetRegionStatus(id)
	if err != nil {
		return fmt.Errorf("failed to get region status: %w", err)
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		pairs := [][2]string{
			{"Region", fmt.Sprintf("%d", status.RegionID)},
			{"Phase", status.Phase},
			{"Resources", progressFraction(status)},
			{"Tiles", fmt.Sprintf("%d", status.CompletedTileCount)},
			{"Size", bytesize.Size(status.CompletedBytes).String()},
			{"Errors", fmt.Sprintf("%d", status.ErroredResourceCount)},
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}

// watchRegion polls the status endpoint until the download leaves the
// downloading phase. Output is plain text regardless of -o.
func watchRegion(client *apiclient.Client, id int64) error {
	for {
		status, err := client.GetRegionStatus(id)
		if err != nil {
			return fmt.Errorf("failed to get region status: %w", err)
		}

		fmt.Printf("%s: %s resources, %d tiles, %s, %d errors\n",
			status.Phase,
			progressFraction(status),
			status.CompletedTileCount,
			bytesize.Size(status.CompletedBytes).String(),
			status.ErroredResourceCount)

		if status.Phase != "downloading" {
			return nil
		}

		time.Sleep(statusInterval)
	}
}

// progressFraction renders completed/total, or just the completed count
// while the manifest is still being enumerated.
func progressFraction(status *apiclient.RegionStatus) string {
	if status.ManifestComplete {
		return fmt.Sprintf("%d/%d", status.CompletedResourceCount, status.ManifestCount)
	}
	return fmt.Sprintf("%d (listing resources)", status.CompletedResourceCount)
}
