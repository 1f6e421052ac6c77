package region

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
)

// MaxSupportedZoom is the deepest zoom level a region may request and the
// default ceiling for sources that do not declare a maxzoom.
const MaxSupportedZoom = 22

// glyphRangeSize is the number of codepoints per glyph range file.
const glyphRangeSize = 256

// lastCodepoint is the top of the Basic Multilingual Plane; glyph ranges
// cover codepoints 0 through here.
const lastCodepoint = 65535

// ideographRanges are the CJK codepoint ranges excluded from glyph
// enumeration unless the region opts in. Clients that compose ideographs
// locally skip roughly 21k codepoints of glyph downloads per fontstack.
var ideographRanges = [][2]int{
	{0x4E00, 0x9FFF}, // CJK Unified Ideographs
	{0x3400, 0x4DBF}, // CJK Unified Ideographs Extension A
	{0xF900, 0xFAFF}, // CJK Compatibility Ideographs
}

// Entry is one manifest item: the key it is stored under and the locator
// it is fetched from.
type Entry struct {
	Key resource.Key
	URL string
}

// enumerate derives the full manifest for a region: the style document,
// each tileset's TileJSON, sprite assets, glyph ranges per fontstack, and
// every tile covering the bounding box in the zoom range. The result is
// deterministic for a given style and definition, and deduplicated by key.
func enumerate(def store.RegionDefinition, style *styleDocument, tilejsons map[string]*tileJSON) []Entry {
	var entries []Entry
	entries = append(entries, Entry{Key: resource.StyleKey(def.StyleURL), URL: def.StyleURL})

	names := style.tilesets()
	for _, name := range names {
		if src := style.Sources[name]; src.URL != "" {
			entries = append(entries, Entry{Key: resource.SourceKey(src.URL), URL: src.URL})
		}
	}

	for _, u := range spriteURLs(style.Sprite, def.PixelRatio) {
		entries = append(entries, Entry{Key: resource.SpriteKey(u), URL: u})
	}

	if style.Glyphs != "" {
		for _, stack := range style.fontstacks() {
			for _, r := range glyphRanges(def.IncludeIdeographs) {
				u := glyphURL(style.Glyphs, stack, r[0], r[1])
				entries = append(entries, Entry{Key: resource.GlyphKey(u), URL: u})
			}
		}
	}

	for _, name := range names {
		src := resolveSource(style.Sources[name], tilejsons[name])
		if len(src.templates) == 0 {
			continue
		}
		minZ := max(def.MinZoom, src.minZoom)
		maxZ := min(def.MaxZoom, src.maxZoom)
		for z := minZ; z <= maxZ; z++ {
			zoom := maptile.Zoom(z)
			minX, minY, maxX, maxY := tileRange(def, zoom)
			for x := minX; x <= maxX; x++ {
				for y := minY; y <= maxY; y++ {
					tile := maptile.New(x, y, zoom)
					entries = append(entries, Entry{
						Key: resource.TileKey(src.identifier, tile),
						URL: expandTileURL(src.templates[0], tile, def.PixelRatio),
					})
				}
			}
		}
	}

	return dedupe(entries)
}

// dedupe drops later entries whose key already appeared. Two sources
// referencing the same tileset must not double-count manifest entries.
func dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		k := e.Key.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// countTiles reports how many manifest entries are tiles.
func countTiles(entries []Entry) int64 {
	var n int64
	for _, e := range entries {
		if e.Key.IsTile() {
			n++
		}
	}
	return n
}

// sourceTiles is a source's resolved tile templates and zoom range, after
// merging inline values with the TileJSON document where one exists.
type sourceTiles struct {
	// identifier is the stable source identifier tiles are keyed under:
	// the TileJSON URL for url-backed sources, the first tile template
	// for inline ones. Template rotation inside a TileJSON-backed source
	// does not orphan its cached tiles.
	identifier string
	templates  []string
	minZoom    int
	maxZoom    int
}

func resolveSource(src *styleSource, tj *tileJSON) sourceTiles {
	out := sourceTiles{maxZoom: MaxSupportedZoom}
	if src.URL != "" {
		out.identifier = src.URL
		if tj != nil {
			out.templates = tj.Tiles
			if tj.MinZoom != nil {
				out.minZoom = *tj.MinZoom
			}
			if tj.MaxZoom != nil {
				out.maxZoom = *tj.MaxZoom
			}
		}
		return out
	}
	out.templates = src.Tiles
	if len(src.Tiles) > 0 {
		out.identifier = src.Tiles[0]
	}
	if src.MinZoom != nil {
		out.minZoom = *src.MinZoom
	}
	if src.MaxZoom != nil {
		out.maxZoom = *src.MaxZoom
	}
	return out
}

// tileRange returns the inclusive tile index range covering the region's
// bounding box at zoom z, clamped to the valid index range for that zoom.
func tileRange(def store.RegionDefinition, z maptile.Zoom) (minX, minY, maxX, maxY uint32) {
	topLeft := maptile.At(orb.Point{def.MinLon, def.MaxLat}, z)
	bottomRight := maptile.At(orb.Point{def.MaxLon, def.MinLat}, z)
	last := uint32(1)<<z - 1
	return min(topLeft.X, last), min(topLeft.Y, last), min(bottomRight.X, last), min(bottomRight.Y, last)
}

// spriteURLs expands a style's sprite base locator into the concrete asset
// URLs: index and image, plus @2x variants for high-density displays.
func spriteURLs(sprite string, pixelRatio float64) []string {
	if sprite == "" {
		return nil
	}
	urls := []string{sprite + ".json", sprite + ".png"}
	if pixelRatio > 1 {
		urls = append(urls, sprite+"@2x.json", sprite+"@2x.png")
	}
	return urls
}

// glyphRanges returns the inclusive codepoint ranges to download per
// fontstack, in ascending order.
func glyphRanges(includeIdeographs bool) [][2]int {
	ranges := make([][2]int, 0, (lastCodepoint+1)/glyphRangeSize)
	for start := 0; start <= lastCodepoint; start += glyphRangeSize {
		end := start + glyphRangeSize - 1
		if !includeIdeographs && overlapsIdeographs(start, end) {
			continue
		}
		ranges = append(ranges, [2]int{start, end})
	}
	return ranges
}

func overlapsIdeographs(start, end int) bool {
	for _, r := range ideographRanges {
		if start <= r[1] && end >= r[0] {
			return true
		}
	}
	return false
}

// glyphURL expands a glyph URL template for one fontstack and range.
func glyphURL(template, fontstack string, start, end int) string {
	u := strings.ReplaceAll(template, "{fontstack}", url.PathEscape(fontstack))
	return strings.ReplaceAll(u, "{range}", fmt.Sprintf("%d-%d", start, end))
}

// expandTileURL fills a tile URL template. The {ratio} placeholder used by
// raster templates expands to "@2x" for high-density regions and to the
// empty string otherwise.
func expandTileURL(template string, tile maptile.Tile, pixelRatio float64) string {
	ratio := ""
	if pixelRatio > 1 {
		ratio = "@2x"
	}
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(int(tile.Z)),
		"{x}", strconv.FormatUint(uint64(tile.X), 10),
		"{y}", strconv.FormatUint(uint64(tile.Y), 10),
		"{ratio}", ratio,
	)
	return r.Replace(template)
}
