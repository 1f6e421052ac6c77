package logger

// Standard field keys for structured logging. Use these consistently across
// log statements so logs aggregate and query cleanly.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Resources
	KeyResource = "resource" // canonical resource key
	KeyKind     = "kind"     // style, tile, sprite, glyph, source
	KeyURL      = "url"
	KeySource   = "source" // tile source identifier
	KeyZoom     = "zoom"
	KeySize     = "size" // payload size in bytes
	KeyETag     = "etag"

	// Regions
	KeyRegionID  = "region_id"
	KeyState     = "state"
	KeyPhase     = "phase"
	KeyManifest  = "manifest_count"
	KeyCompleted = "completed"
	KeyErrored   = "errored"

	// Cache
	KeyCacheHit     = "cache_hit"
	KeyAmbientSize  = "ambient_size"
	KeyAmbientLimit = "ambient_limit"
	KeyTileLimit    = "tile_count_limit"
	KeyEvicted      = "evicted"
	KeyFreedBytes   = "freed_bytes"

	// Downloads
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyStatus     = "status" // HTTP status code
	KeyPriority   = "priority"
	KeyQueueDepth = "queue_depth"

	// Store
	KeyBackend = "backend" // memory, badger, sqlite, postgres
	KeyPath    = "path"

	// HTTP API
	KeyRequestID = "request_id"
	KeyMethod    = "method"
	KeyClientIP  = "client_ip"

	// Generic
	KeyError      = "error"
	KeyDurationMs = "duration_ms"
	KeyInstanceID = "instance_id"
)
