package region

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
)

var (
	metadataJSON    string
	metadataSetName string
)

var metadataCmd = &cobra.Command{
	Use:   "metadata <region-id>",
	Short: "Update region metadata",
	Long: `Replace the opaque metadata attached to a region.

The server stores metadata verbatim and never interprets it. The
update is atomic: concurrent readers see either the old blob or the
new one, never a mix.

Examples:
  # Rename a region
  tvctl region metadata 1 --name "Zurich v2"

  # Replace the whole blob
  tvctl region metadata 1 --json '{"name":"Zurich","revision":7}'`,
	Args: cobra.ExactArgs(1),
	RunE: runMetadata,
}

func init() {
	metadataCmd.Flags().StringVar(&metadataSetName, "name", "", "Set the display name (merges into existing metadata)")
	metadataCmd.Flags().StringVar(&metadataJSON, "json", "", "Replacement metadata as JSON")
}

func runMetadata(cmd *cobra.Command, args []string) error {
	id, err := parseRegionID(args[0])
	if err != nil {
		return err
	}

	if metadataJSON == "" && metadataSetName == "" {
		return fmt.Errorf("nothing to update: pass --name or --json")
	}

	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	var blob json.RawMessage
	if metadataJSON != "" {
		if !json.Valid([]byte(metadataJSON)) {
			return fmt.Errorf("invalid metadata JSON")
		}
		blob = json.RawMessage(metadataJSON)
	} else {
		// Merge the name into whatever is stored now
		region, err := client.GetRegion(id)
		if err != nil {
			return fmt.Errorf("failed to get region: %w", err)
		}
		merged := map[string]any{}
		if len(region.Metadata) > 0 {
			if err := json.Unmarshal(region.Metadata, &merged); err != nil {
				merged = map[string]any{}
			}
		}
		merged["name"] = metadataSetName
		blob, err = json.Marshal(merged)
		if err != nil {
			return err
		}
	}

	region, err := client.UpdateRegionMetadata(id, blob)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, region,
		fmt.Sprintf("Region %d metadata updated", id))
}
