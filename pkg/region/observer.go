package region

// Phase is the download phase carried by a Status. Persisted region state
// only distinguishes Inactive from Active; the terminal phases of a
// download pass exist on the status stream and in the region's Completion.
type Phase string

const (
	PhaseInactive           Phase = "inactive"
	PhaseDownloading        Phase = "downloading"
	PhaseComplete           Phase = "complete"
	PhaseCompleteWithErrors Phase = "complete_with_errors"
	PhaseQuotaExceeded      Phase = "quota_exceeded"
)

// Terminal reports whether the phase ends a download pass.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseCompleteWithErrors, PhaseQuotaExceeded:
		return true
	}
	return false
}

// Status is a progress snapshot delivered to a region's observer.
//
// Delivery is at least once. Counters are monotonically non-decreasing
// within a download pass, so an observer merges duplicates idempotently by
// keeping the highest values it has seen.
type Status struct {
	RegionID int64 `json:"region_id"`
	Phase    Phase `json:"phase"`

	ManifestCount          int64 `json:"manifest_count"`
	CompletedResourceCount int64 `json:"completed_resource_count"`
	CompletedTileCount     int64 `json:"completed_tile_count"`
	CompletedBytes         int64 `json:"completed_bytes"`
	ErroredResourceCount   int64 `json:"errored_resource_count"`

	// ManifestComplete is true once every manifest entry has been
	// resolved, successfully or not.
	ManifestComplete bool `json:"manifest_complete"`
}

// Observer receives download progress for one region. Callbacks run on a
// per-region notifier goroutine, never on a downloader worker, so a slow
// observer throttles only its own region's reporting.
type Observer interface {
	RegionChanged(status Status)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Status)

func (f ObserverFunc) RegionChanged(status Status) { f(status) }
