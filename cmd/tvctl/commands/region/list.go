package region

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/internal/cli/timeutil"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all regions",
	Long: `List all offline regions on the TileVault server.

Examples:
  # List regions as table
  tvctl region list

  # List as JSON
  tvctl region list -o json`,
	RunE: runList,
}

// regionRow holds resolved region info for table display.
type regionRow struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Completion string `json:"completion"`
	Zoom       string `json:"zoom"`
	Resources  int64  `json:"resources"`
	Errors     int64  `json:"errors"`
	Created    string `json:"created"`
}

// RegionList is a list of regions for table rendering.
type RegionList []regionRow

// Headers implements TableRenderer.
func (rl RegionList) Headers() []string {
	return []string{"ID", "NAME", "STATE", "COMPLETION", "ZOOM", "RESOURCES", "ERRORS", "CREATED"}
}

// Rows implements TableRenderer.
func (rl RegionList) Rows() [][]string {
	rows := make([][]string, 0, len(rl))
	for _, r := range rl {
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.ID),
			cmdutil.EmptyOr(r.Name, "-"),
			r.State,
			r.Completion,
			r.Zoom,
			fmt.Sprintf("%d", r.Resources),
			fmt.Sprintf("%d", r.Errors),
			r.Created,
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	regions, err := client.ListRegions()
	if err != nil {
		return fmt.Errorf("failed to list regions: %w", err)
	}

	rows := make(RegionList, 0, len(regions))
	for _, r := range regions {
		rows = append(rows, regionRow{
			ID:         r.ID,
			Name:       metadataName(r.Metadata),
			State:      r.State,
			Completion: r.Completion,
			Zoom:       fmt.Sprintf("%d-%d", r.Definition.MinZoom, r.Definition.MaxZoom),
			Resources:  r.ManifestCount,
			Errors:     r.ErroredResourceCount,
			Created:    r.CreatedAt.Local().Format(timeutil.LocalTimeFormat),
		})
	}

	return cmdutil.PrintOutput(os.Stdout, rows, len(rows) == 0, "No regions found. Use 'tvctl region create' to define one.", rows)
}
