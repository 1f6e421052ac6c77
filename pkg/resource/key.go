package resource

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb/maptile"
)

// Key is the stable, canonical identity of a resource. It is the store's
// primary key and must remain byte-identical across process restarts.
//
// URL-locatable kinds (style, sprite, glyph, source metadata) are keyed by
// kind plus URL. Tiles are keyed by kind, source identifier, and tile
// coordinate so a rotated URL template or access token does not orphan
// cached tiles.
type Key struct {
	Kind   Kind
	URL    string       // set for every kind except KindTile
	Source string       // tile source identifier, KindTile only
	Tile   maptile.Tile // KindTile only
}

// StyleKey returns the key for a style document.
func StyleKey(url string) Key {
	return Key{Kind: KindStyle, URL: url}
}

// SpriteKey returns the key for a sprite asset URL.
func SpriteKey(url string) Key {
	return Key{Kind: KindSprite, URL: url}
}

// GlyphKey returns the key for a concrete glyph range URL.
func GlyphKey(url string) Key {
	return Key{Kind: KindGlyph, URL: url}
}

// SourceKey returns the key for a source's TileJSON document.
func SourceKey(url string) Key {
	return Key{Kind: KindSourceMetadata, URL: url}
}

// TileKey returns the key for a tile of the given source.
func TileKey(source string, tile maptile.Tile) Key {
	return Key{Kind: KindTile, Source: source, Tile: tile}
}

// String renders the canonical form: "style|<url>" for URL kinds and
// "tile|<source>|<z>/<x>/<y>" for tiles.
func (k Key) String() string {
	if k.Kind == KindTile {
		return fmt.Sprintf("tile|%s|%d/%d/%d", k.Source, k.Tile.Z, k.Tile.X, k.Tile.Y)
	}
	return k.Kind.String() + "|" + k.URL
}

// IsTile reports whether the key addresses a tile resource.
func (k Key) IsTile() bool {
	return k.Kind == KindTile
}

// ParseKey parses a canonical key string back into a Key.
func ParseKey(s string) (Key, error) {
	tag, rest, ok := strings.Cut(s, "|")
	if !ok {
		return Key{}, fmt.Errorf("malformed resource key %q", s)
	}

	kind, err := ParseKind(tag)
	if err != nil {
		return Key{}, fmt.Errorf("malformed resource key %q: %w", s, err)
	}

	if kind != KindTile {
		if rest == "" {
			return Key{}, fmt.Errorf("malformed resource key %q: empty locator", s)
		}
		return Key{Kind: kind, URL: rest}, nil
	}

	source, coord, ok := strings.Cut(rest, "|")
	if !ok || source == "" {
		return Key{}, fmt.Errorf("malformed tile key %q", s)
	}

	var z, x, y uint32
	if _, err := fmt.Sscanf(coord, "%d/%d/%d", &z, &x, &y); err != nil {
		return Key{}, fmt.Errorf("malformed tile coordinate in key %q: %w", s, err)
	}

	return Key{
		Kind:   KindTile,
		Source: source,
		Tile:   maptile.New(x, y, maptile.Zoom(z)),
	}, nil
}
