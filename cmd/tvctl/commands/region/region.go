// Package region implements offline region management commands for tvctl.
package region

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// Cmd is the parent command for region management.
var Cmd = &cobra.Command{
	Use:   "region",
	Short: "Offline region management",
	Long: `Manage offline regions on the TileVault server.

Region commands allow you to define geographic regions for offline use,
start and pause their downloads, track download progress, and delete
regions once they are no longer needed.

Examples:
  # List all regions
  tvctl region list

  # Create a region from a definition file
  tvctl region create --definition zurich.yaml

  # Create a region from flags
  tvctl region create --style-url mapbox://styles/mapbox/streets-v11 \
    --min-lat 47.32 --min-lon 8.45 --max-lat 47.44 --max-lon 8.63 \
    --min-zoom 0 --max-zoom 14

  # Start downloading a region
  tvctl region activate 1

  # Watch download progress
  tvctl region status 1 --watch

  # Delete a region
  tvctl region delete 1`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(getCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(activateCmd)
	Cmd.AddCommand(deactivateCmd)
	Cmd.AddCommand(invalidateCmd)
	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(metadataCmd)
}

// parseRegionID parses a region ID command argument.
func parseRegionID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid region ID '%s'", arg)
	}
	return id, nil
}

// metadataName extracts a display name from the opaque region metadata.
// Clients conventionally store {"name": ...} there; anything else renders
// as an empty string.
func metadataName(metadata json.RawMessage) string {
	if len(metadata) == 0 {
		return ""
	}
	var m struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(metadata, &m); err != nil {
		return ""
	}
	return m.Name
}
