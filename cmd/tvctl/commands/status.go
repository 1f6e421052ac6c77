package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tilevault/tilevault/cmd/tvctl/cmdutil"
	"github.com/tilevault/tilevault/internal/bytesize"
	"github.com/tilevault/tilevault/internal/cli/credentials"
	"github.com/tilevault/tilevault/internal/cli/health"
	"github.com/tilevault/tilevault/internal/cli/output"
	"github.com/tilevault/tilevault/internal/cli/timeutil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the status of the connected TileVault server.

This command checks the server health endpoint and displays the
engine snapshot: uptime, cache usage, region counts, and download
activity.

Examples:
  # Check status of connected server
  tvctl status

  # Output as JSON
  tvctl status -o json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// ServerStatus represents the server status for display.
type ServerStatus struct {
	Server          string `json:"server" yaml:"server"`
	Status          string `json:"status" yaml:"status"`
	Healthy         bool   `json:"healthy" yaml:"healthy"`
	Instance        string `json:"instance,omitempty" yaml:"instance,omitempty"`
	Uptime          string `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	AmbientUsed     string `json:"ambient_used,omitempty" yaml:"ambient_used,omitempty"`
	AmbientBudget   string `json:"ambient_budget,omitempty" yaml:"ambient_budget,omitempty"`
	LinkedTiles     int64  `json:"linked_tiles,omitempty" yaml:"linked_tiles,omitempty"`
	TileQuota       string `json:"tile_quota,omitempty" yaml:"tile_quota,omitempty"`
	Regions         int    `json:"regions,omitempty" yaml:"regions,omitempty"`
	ActiveRegions   int    `json:"active_regions,omitempty" yaml:"active_regions,omitempty"`
	HotEntries      int    `json:"hot_entries,omitempty" yaml:"hot_entries,omitempty"`
	DownloadsActive int    `json:"downloads_active,omitempty" yaml:"downloads_active,omitempty"`
	DownloadsQueued int    `json:"downloads_queued,omitempty" yaml:"downloads_queued,omitempty"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Load credential store
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}

	// Get current context
	ctx, err := store.GetCurrentContext()
	if err != nil {
		return fmt.Errorf("not logged in. Run 'tvctl login' first")
	}

	serverURL := ctx.ServerURL
	if cmdutil.Flags.ServerURL != "" {
		serverURL = cmdutil.Flags.ServerURL
	}
	if serverURL == "" {
		return fmt.Errorf("no server configured. Run 'tvctl login <url>' first")
	}

	status := ServerStatus{
		Server:  serverURL,
		Status:  "unreachable",
		Healthy: false,
	}

	// Check health endpoint
	healthURL := serverURL + "/health"
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(healthURL)
	if err != nil {
		status.Error = err.Error()
	} else {
		defer func() { _ = resp.Body.Close() }()

		var healthResp health.Response
		if err := json.NewDecoder(resp.Body).Decode(&healthResp); err == nil {
			status.Status = healthResp.Status
			status.Healthy = healthResp.Status == "healthy"
			status.Instance = healthResp.Data.Instance
			if healthResp.Error != "" {
				status.Error = healthResp.Error
			}
		} else {
			status.Status = "unknown"
			status.Error = "Failed to parse health response"
		}
	}

	// Enrich with the engine snapshot when the server is up
	if status.Healthy {
		if client, err := cmdutil.GetAuthenticatedClient(); err == nil {
			if es, err := client.GetStatus(); err == nil {
				status.Instance = es.InstanceID
				status.Uptime = timeutil.FormatUptime(es.UptimeSeconds)
				status.AmbientUsed = bytesize.Size(es.AmbientSize).String()
				status.AmbientBudget = bytesize.Size(es.MaxAmbientSize).String()
				status.LinkedTiles = es.LinkedTileCount
				if es.TileCountLimit > 0 {
					status.TileQuota = fmt.Sprintf("%d tiles", es.TileCountLimit)
				} else {
					status.TileQuota = "unlimited"
				}
				status.Regions = es.RegionCount
				status.ActiveRegions = es.ActiveRegions
				status.HotEntries = es.Hot.HotEntries
				status.DownloadsActive = es.Downloader.InFlight
				status.DownloadsQueued = es.Downloader.QueuedRegion + es.Downloader.QueuedAmbient
			} else if status.Error == "" {
				status.Error = err.Error()
			}
		}
	}

	// Output based on format
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
		printStatusTable(status)
	}

	return nil
}

func printStatusTable(status ServerStatus) {
	fmt.Println()
	fmt.Println("TileVault Server Status")
	fmt.Println("=======================")
	fmt.Println()
	fmt.Printf("  Server:      %s\n", status.Server)

	if status.Healthy {
		fmt.Printf("  Status:      \033[32m● %s\033[0m\n", status.Status)
	} else if status.Status == "unreachable" {
		fmt.Printf("  Status:      \033[31m○ %s\033[0m\n", status.Status)
	} else {
		fmt.Printf("  Status:      \033[33m● %s\033[0m\n", status.Status)
	}

	if status.Instance != "" {
		fmt.Printf("  Instance:    %s\n", status.Instance)
	}
	if status.Uptime != "" {
		fmt.Printf("  Uptime:      %s\n", status.Uptime)
	}
	if status.AmbientBudget != "" {
		fmt.Printf("  Ambient:     %s of %s\n", status.AmbientUsed, status.AmbientBudget)
	}
	if status.TileQuota != "" {
		fmt.Printf("  Tiles:       %d linked (quota: %s)\n", status.LinkedTiles, status.TileQuota)
	}
	if status.Regions > 0 || status.ActiveRegions > 0 {
		fmt.Printf("  Regions:     %d (%d active)\n", status.Regions, status.ActiveRegions)
	}
	if status.Uptime != "" {
		fmt.Printf("  Hot cache:   %d entries\n", status.HotEntries)
		fmt.Printf("  Downloads:   %d active, %d queued\n", status.DownloadsActive, status.DownloadsQueued)
	}
	if status.Error != "" {
		fmt.Printf("  Error:       %s\n", status.Error)
	}
	fmt.Println()
}
