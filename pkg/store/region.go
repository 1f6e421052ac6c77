package store

import (
	"fmt"
	"time"
)

// State is a region's persisted download state. Terminal download outcomes
// are tracked separately in Completion; the persisted state stays Active
// until the application deactivates the region.
type State int

const (
	StateInactive State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseState converts a wire name back into a State.
func ParseState(s string) (State, error) {
	switch s {
	case "inactive":
		return StateInactive, nil
	case "active":
		return StateActive, nil
	default:
		return 0, fmt.Errorf("unknown region state %q", s)
	}
}

// Completion records the outcome of the most recent download pass.
type Completion int

const (
	CompletionNone Completion = iota
	CompletionComplete
	CompletionCompleteWithErrors
	CompletionQuotaExceeded
)

func (c Completion) String() string {
	switch c {
	case CompletionNone:
		return "none"
	case CompletionComplete:
		return "complete"
	case CompletionCompleteWithErrors:
		return "complete_with_errors"
	case CompletionQuotaExceeded:
		return "quota_exceeded"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ParseCompletion converts a wire name back into a Completion.
func ParseCompletion(s string) (Completion, error) {
	switch s {
	case "none":
		return CompletionNone, nil
	case "complete":
		return CompletionComplete, nil
	case "complete_with_errors":
		return CompletionCompleteWithErrors, nil
	case "quota_exceeded":
		return CompletionQuotaExceeded, nil
	default:
		return 0, fmt.Errorf("unknown completion %q", s)
	}
}

// RegionDefinition is the client-supplied description of an offline region.
// It is persisted verbatim as JSON so a region can be re-enumerated after a
// restart.
type RegionDefinition struct {
	MinLat float64 `json:"min_lat" mapstructure:"min_lat" validate:"gte=-90,lte=90"`
	MinLon float64 `json:"min_lon" mapstructure:"min_lon" validate:"gte=-180,lte=180"`
	MaxLat float64 `json:"max_lat" mapstructure:"max_lat" validate:"gte=-90,lte=90"`
	MaxLon float64 `json:"max_lon" mapstructure:"max_lon" validate:"gte=-180,lte=180"`

	MinZoom int `json:"min_zoom" mapstructure:"min_zoom" validate:"gte=0"`
	MaxZoom int `json:"max_zoom" mapstructure:"max_zoom" validate:"gte=0"`

	StyleURL string `json:"style_url" mapstructure:"style_url" validate:"required"`

	// PixelRatio selects raster and sprite density. 1 requests standard
	// assets, values above 1 request @2x variants.
	PixelRatio float64 `json:"pixel_ratio" mapstructure:"pixel_ratio" validate:"gte=1"`

	// IncludeIdeographs controls whether CJK ideograph glyph ranges are part
	// of the manifest. Clients that compose ideographs locally leave this
	// false and skip roughly 21k codepoints per fontstack.
	IncludeIdeographs bool `json:"include_ideographs" mapstructure:"include_ideographs"`
}

// Region is a persisted offline region row.
type Region struct {
	ID         int64
	Definition RegionDefinition

	// Metadata is opaque client data, stored and returned verbatim.
	Metadata []byte

	State      State
	Completion Completion

	// ManifestCount is the total number of resources the region requires.
	ManifestCount int64

	// ErroredResourceCount counts terminally failed manifest entries in the
	// current download pass.
	ErroredResourceCount int64

	CreatedAt time.Time
}

// Progress is download progress recomputed from persisted links.
type Progress struct {
	CompletedResourceCount int64
	CompletedTileCount     int64
	CompletedBytes         int64
}
