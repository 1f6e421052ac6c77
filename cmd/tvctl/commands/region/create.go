package region

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/pkg/apiclient"
	"gopkg.in/yaml.v3"
)

var (
	createDefinitionFile string
	createName           string
	createMetadata       string

	createStyleURL   string
	createMinLat     float64
	createMinLon     float64
	createMaxLat     float64
	createMaxLon     float64
	createMinZoom    int
	createMaxZoom    int
	createPixelRatio float64
	createIdeographs bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a region",
	Long: `Create a new offline region on the TileVault server.

The region definition can come from a YAML or JSON file, or from
individual flags. Regions start inactive; use 'tvctl region activate'
to begin downloading.

Definition file format (YAML):
  style_url: mapbox://styles/mapbox/streets-v11
  min_lat: 47.32
  min_lon: 8.45
  max_lat: 47.44
  max_lon: 8.63
  min_zoom: 0
  max_zoom: 14
  pixel_ratio: 1.0
  include_ideographs: false

Examples:
  # Create from a definition file
  tvctl region create --definition zurich.yaml --name "Zurich"

  # Create from flags
  tvctl region create --style-url mapbox://styles/mapbox/streets-v11 \
    --min-lat 47.32 --min-lon 8.45 --max-lat 47.44 --max-lon 8.63 \
    --min-zoom 0 --max-zoom 14

  # Attach arbitrary metadata
  tvctl region create --definition zurich.yaml --metadata '{"name":"Zurich","group":"switzerland"}'`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createDefinitionFile, "definition", "", "Region definition file (YAML or JSON)")
	createCmd.Flags().StringVar(&createName, "name", "", "Region display name (stored in metadata)")
	createCmd.Flags().StringVar(&createMetadata, "metadata", "", "Region metadata as JSON (overrides --name)")

	createCmd.Flags().StringVar(&createStyleURL, "style-url", "", "Style URL the region is pinned to")
	createCmd.Flags().Float64Var(&createMinLat, "min-lat", 0, "Southern bound in degrees")
	createCmd.Flags().Float64Var(&createMinLon, "min-lon", 0, "Western bound in degrees")
	createCmd.Flags().Float64Var(&createMaxLat, "max-lat", 0, "Northern bound in degrees")
	createCmd.Flags().Float64Var(&createMaxLon, "max-lon", 0, "Eastern bound in degrees")
	createCmd.Flags().IntVar(&createMinZoom, "min-zoom", 0, "Minimum zoom level")
	createCmd.Flags().IntVar(&createMaxZoom, "max-zoom", 0, "Maximum zoom level")
	createCmd.Flags().Float64Var(&createPixelRatio, "pixel-ratio", 1.0, "Device pixel ratio for raster tiles")
	createCmd.Flags().BoolVar(&createIdeographs, "include-ideographs", false, "Download CJK glyph ranges")
}

func runCreate(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	def, err := buildDefinition()
	if err != nil {
		return err
	}

	metadata, err := buildMetadata(createMetadata, createName)
	if err != nil {
		return err
	}

	req := &apiclient.CreateRegionRequest{
		Definition: *def,
		Metadata:   metadata,
	}

	region, err := client.CreateRegion(req)
	if err != nil {
		return fmt.Errorf("failed to create region: %w", err)
	}

	return cmdutil.PrintResourceWithSuccess(os.Stdout, region,
		fmt.Sprintf("Region %d created (zoom %d-%d, inactive). Activate it with 'tvctl region activate %d'",
			region.ID, region.Definition.MinZoom, region.Definition.MaxZoom, region.ID))
}

// buildDefinition assembles the region definition from the file or the
// individual flags. Flags override file values when both are given.
func buildDefinition() (*apiclient.RegionDefinition, error) {
	def := &apiclient.RegionDefinition{PixelRatio: 1.0}

	if createDefinitionFile != "" {
		data, err := os.ReadFile(createDefinitionFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read definition file: %w", err)
		}
		// yaml.v3 handles JSON input too
		if err := yaml.Unmarshal(data, def); err != nil {
			return nil, fmt.Errorf("invalid definition file: %w", err)
		}
	}

	if createStyleURL != "" {
		def.StyleURL = createStyleURL
	}
	if createMinLat != 0 {
		def.MinLat = createMinLat
	}
	if createMinLon != 0 {
		def.MinLon = createMinLon
	}
	if createMaxLat != 0 {
		def.MaxLat = createMaxLat
	}
	if createMaxLon != 0 {
		def.MaxLon = createMaxLon
	}
	if createMinZoom != 0 {
		def.MinZoom = createMinZoom
	}
	if createMaxZoom != 0 {
		def.MaxZoom = createMaxZoom
	}
	if createPixelRatio != 1.0 {
		def.PixelRatio = createPixelRatio
	}
	if createIdeographs {
		def.IncludeIdeographs = true
	}

	if def.StyleURL == "" {
		return nil, fmt.Errorf("style URL is required (--style-url or a definition file)")
	}

	return def, nil
}

// buildMetadata produces the opaque metadata blob. An explicit --metadata
// JSON wins over the --name shorthand.
func buildMetadata(rawJSON, name string) (json.RawMessage, error) {
	if rawJSON != "" {
		if !json.Valid([]byte(rawJSON)) {
			return nil, fmt.Errorf("invalid metadata JSON")
		}
		return json.RawMessage(rawJSON), nil
	}
	if name != "" {
		data, err := json.Marshal(map[string]string{"name": name})
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, nil
}
