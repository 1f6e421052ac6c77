package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/maptile"

	"github.com/tilevault/tilevault/internal/telemetry"
	"github.com/tilevault/tilevault/pkg/engine"
	"github.com/tilevault/tilevault/pkg/resource"
)

// ResourceHandler serves cached map resources to rendering clients.
//
// Unlike the management endpoints these return raw payload bytes, with
// the cache metadata mapped onto standard HTTP headers so renderers can
// consume them like any origin response.
type ResourceHandler struct {
	eng *engine.Engine
}

// NewResourceHandler creates a new resource proxy handler.
func NewResourceHandler(eng *engine.Engine) *ResourceHandler {
	return &ResourceHandler{eng: eng}
}

// Resource handles GET /api/v1/resources?kind=&url= - resolve a
// non-tile resource (style, sprite, glyph range, source TileJSON)
// through the cache hierarchy.
func (h *ResourceHandler) Resource(w http.ResponseWriter, r *http.Request) {
	rawKind := r.URL.Query().Get("kind")
	url := r.URL.Query().Get("url")
	if rawKind == "" || url == "" {
		BadRequest(w, "Missing kind or url parameter")
		return
	}

	kind, err := resource.ParseKind(rawKind)
	if err != nil {
		BadRequest(w, "Unknown resource kind")
		return
	}

	var key resource.Key
	switch kind {
	case resource.KindStyle:
		key = resource.StyleKey(url)
	case resource.KindSprite:
		key = resource.SpriteKey(url)
	case resource.KindGlyph:
		key = resource.GlyphKey(url)
	case resource.KindSourceMetadata:
		key = resource.SourceKey(url)
	default:
		BadRequest(w, "Tiles are served from /tiles/{source}/{z}/{x}/{y}")
		return
	}

	h.serve(w, r, key, url)
}

// Tile handles GET /api/v1/tiles/{source}/{z}/{x}/{y}?url= - resolve a
// tile through the cache hierarchy.
//
// The url parameter is the source's tile URL template; {z}, {x}, {y}
// and {ratio} placeholders are expanded from the route coordinates
// before the origin is contacted.
func (h *ResourceHandler) Tile(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	template := r.URL.Query().Get("url")
	if source == "" || template == "" {
		BadRequest(w, "Missing source or url parameter")
		return
	}

	z, errZ := strconv.ParseUint(chi.URLParam(r, "z"), 10, 32)
	x, errX := strconv.ParseUint(chi.URLParam(r, "x"), 10, 32)
	y, errY := strconv.ParseUint(chi.URLParam(r, "y"), 10, 32)
	if errZ != nil || errX != nil || errY != nil || z > 22 {
		BadRequest(w, "Invalid tile coordinates")
		return
	}

	ratio := ""
	if r.URL.Query().Get("ratio") == "2" {
		ratio = "@2x"
	}
	origin := strings.NewReplacer(
		"{z}", strconv.FormatUint(z, 10),
		"{x}", strconv.FormatUint(x, 10),
		"{y}", strconv.FormatUint(y, 10),
		"{ratio}", ratio,
	).Replace(template)

	key := resource.TileKey(source, maptile.New(uint32(x), uint32(y), maptile.Zoom(z)))
	h.serve(w, r, key, origin)
}

func (h *ResourceHandler) serve(w http.ResponseWriter, r *http.Request, key resource.Key, originURL string) {
	ctx, span := telemetry.StartResolveSpan(r.Context(), key.String())
	defer span.End()

	res, err := h.eng.Resolve(ctx, key, originURL)
	if err != nil {
		span.RecordError(err)
		Error(w, err)
		return
	}
	span.SetAttributes(telemetry.ResourceSize(res.Size))

	writeResource(w, res)
}

// writeResource maps stored cache metadata onto response headers and
// streams the payload.
func writeResource(w http.ResponseWriter, res *resource.Resource) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Payload)))
	if res.ETag != "" {
		w.Header().Set("ETag", res.ETag)
	}
	if !res.Modified.IsZero() {
		w.Header().Set("Last-Modified", res.Modified.UTC().Format(http.TimeFormat))
	}
	if !res.Expires.IsZero() {
		w.Header().Set("Expires", res.Expires.UTC().Format(http.TimeFormat))
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Payload)
}
