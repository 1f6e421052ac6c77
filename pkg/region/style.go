package region

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// tileSourceTypes are the source types that reference tilesets. Other
// source types (geojson, image, video) carry no downloadable tiles and are
// skipped during enumeration.
var tileSourceTypes = map[string]bool{
	"vector":     true,
	"raster":     true,
	"raster-dem": true,
}

// styleDocument is the minimal slice of a style document the region
// manager needs: asset locators and the fontstacks in use. Everything else
// in the style is opaque to this engine.
type styleDocument struct {
	Version int                     `json:"version"`
	Sprite  string                  `json:"sprite"`
	Glyphs  string                  `json:"glyphs"`
	Sources map[string]*styleSource `json:"sources"`
	Layers  []styleLayer            `json:"layers"`
}

type styleSource struct {
	Type    string   `json:"type"`
	URL     string   `json:"url"`
	Tiles   []string `json:"tiles"`
	MinZoom *int     `json:"minzoom"`
	MaxZoom *int     `json:"maxzoom"`
}

type styleLayer struct {
	Layout map[string]json.RawMessage `json:"layout"`
}

// parseStyle decodes the fields listed above from a style payload.
func parseStyle(payload []byte) (*styleDocument, error) {
	var doc styleDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("malformed style document: %w", err)
	}
	return &doc, nil
}

// tilesets returns the names of sources that reference tilesets, sorted,
// so enumeration and TileJSON fetch order are deterministic.
func (d *styleDocument) tilesets() []string {
	names := make([]string, 0, len(d.Sources))
	for name, src := range d.Sources {
		if src != nil && tileSourceTypes[src.Type] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// fontstacks collects the distinct fontstacks referenced by layers'
// text-font layout properties, sorted. A fontstack is the comma-joined
// font list, matching the {fontstack} glyph URL placeholder. Layers whose
// text-font is an expression rather than a literal list are skipped; their
// fonts cannot be known without evaluating the style.
func (d *styleDocument) fontstacks() []string {
	seen := make(map[string]struct{})
	for _, layer := range d.Layers {
		raw, ok := layer.Layout["text-font"]
		if !ok {
			continue
		}
		var fonts []string
		if err := json.Unmarshal(raw, &fonts); err != nil || len(fonts) == 0 {
			continue
		}
		seen[strings.Join(fonts, ",")] = struct{}{}
	}
	stacks := make([]string, 0, len(seen))
	for s := range seen {
		stacks = append(stacks, s)
	}
	sort.Strings(stacks)
	return stacks
}

// tileJSON is the minimal slice of a TileJSON document: the tile URL
// templates and the tileset's zoom range.
type tileJSON struct {
	Tiles   []string `json:"tiles"`
	MinZoom *int     `json:"minzoom"`
	MaxZoom *int     `json:"maxzoom"`
}

func parseTileJSON(payload []byte) (*tileJSON, error) {
	var doc tileJSON
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("malformed tilejson document: %w", err)
	}
	return &doc, nil
}
