// Package resource defines the resource kinds, canonical keys, and the
// cached resource record shared by the store, downloader, and region
// manager.
package resource

import "fmt"

// Kind identifies the class of a cached map resource.
type Kind int

const (
	// KindStyle is a style document.
	KindStyle Kind = iota + 1

	// KindTile is a vector or raster tile, keyed by source and coordinate.
	KindTile

	// KindSprite is a sprite sheet or its index.
	KindSprite

	// KindGlyph is a glyph range for a fontstack.
	KindGlyph

	// KindSourceMetadata is a source's TileJSON document.
	KindSourceMetadata
)

// kindTags are the wire tags used in canonical keys. They are part of the
// persistent schema and must never change.
var kindTags = map[Kind]string{
	KindStyle:          "style",
	KindTile:           "tile",
	KindSprite:         "sprite",
	KindGlyph:          "glyph",
	KindSourceMetadata: "source",
}

// String returns the stable wire tag for the kind.
func (k Kind) String() string {
	if tag, ok := kindTags[k]; ok {
		return tag
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// ParseKind converts a wire tag back into a Kind.
func ParseKind(tag string) (Kind, error) {
	for k, t := range kindTags {
		if t == tag {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown resource kind %q", tag)
}

// Valid reports whether the kind is one of the defined resource kinds.
func (k Kind) Valid() bool {
	_, ok := kindTags[k]
	return ok
}
