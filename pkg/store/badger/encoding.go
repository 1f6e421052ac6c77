package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tilevault/tilevault/pkg/store"
)

// Key namespace. BadgerDB is a flat key-value store, so record types are
// separated by short prefixes. Resource payloads live apart from their
// metadata so metadata scans (eviction, size accounting, quota checks)
// never page payload bytes through the value log.
//
// Record Type        Prefix  Key Format                      Value
// =====================================================================
// Resource metadata  "m:"    m:<canonical key>               resourceMeta (JSON)
// Resource payload   "b:"    b:<canonical key>               raw bytes
// Region             "r:"    r:<decimal id>                  regionRecord (JSON)
// Region link        "l:"    l:<decimal id>:<canonical key>  empty
// Counter            "seq:"  seq:insert | seq:region         uint64 (binary)

const (
	prefixMeta    = "m:"
	prefixPayload = "b:"
	prefixRegion  = "r:"
	prefixLink    = "l:"
	prefixCounter = "seq:"
)

func keyMeta(canonical string) []byte {
	return []byte(prefixMeta + canonical)
}

func keyPayload(canonical string) []byte {
	return []byte(prefixPayload + canonical)
}

func keyRegion(id int64) []byte {
	return []byte(prefixRegion + strconv.FormatInt(id, 10))
}

func keyLink(regionID int64, canonical string) []byte {
	return []byte(prefixLink + strconv.FormatInt(regionID, 10) + ":" + canonical)
}

// keyLinkPrefix is the range-scan prefix for one region's links. The
// trailing separator keeps region 1 from matching region 10.
func keyLinkPrefix(regionID int64) []byte {
	return []byte(prefixLink + strconv.FormatInt(regionID, 10) + ":")
}

func keyCounter(name string) []byte {
	return []byte(prefixCounter + name)
}

const (
	counterInsert = "insert"
	counterRegion = "region"
)

// resourceMeta is the stored form of a resource minus its payload.
type resourceMeta struct {
	Key      string    `json:"key"`
	ETag     string    `json:"etag,omitempty"`
	Modified time.Time `json:"modified,omitzero"`
	Expires  time.Time `json:"expires,omitzero"`
	Size     int64     `json:"size"`

	AccessedAt time.Time `json:"accessed_at"`

	// Seq is the insertion sequence, the eviction tiebreaker for entries
	// sharing an AccessedAt instant. Preserved across overwrites.
	Seq uint64 `json:"seq"`

	// Links is the number of regions referencing this resource. Zero means
	// the entry is ambient and evictable.
	Links int64 `json:"links"`
}

// regionRecord is the stored form of a region row.
type regionRecord struct {
	ID                   int64                  `json:"id"`
	Definition           store.RegionDefinition `json:"definition"`
	Metadata             []byte                 `json:"metadata,omitempty"`
	State                string                 `json:"state"`
	Completion           string                 `json:"completion"`
	ManifestCount        int64                  `json:"manifest_count"`
	ErroredResourceCount int64                  `json:"errored_resource_count"`
	CreatedAt            time.Time              `json:"created_at"`
}

func encodeMeta(meta *resourceMeta) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource metadata: %w", err)
	}
	return data, nil
}

func decodeMeta(data []byte) (*resourceMeta, error) {
	var meta resourceMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode resource metadata: %w", err)
	}
	return &meta, nil
}

func encodeRegion(reg *store.Region) ([]byte, error) {
	rec := regionRecord{
		ID:                   reg.ID,
		Definition:           reg.Definition,
		Metadata:             reg.Metadata,
		State:                reg.State.String(),
		Completion:           reg.Completion.String(),
		ManifestCount:        reg.ManifestCount,
		ErroredResourceCount: reg.ErroredResourceCount,
		CreatedAt:            reg.CreatedAt,
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode region: %w", err)
	}
	return data, nil
}

func decodeRegion(data []byte) (*store.Region, error) {
	var rec regionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode region: %w", err)
	}
	state, err := store.ParseState(rec.State)
	if err != nil {
		return nil, fmt.Errorf("failed to decode region %d: %w", rec.ID, err)
	}
	completion, err := store.ParseCompletion(rec.Completion)
	if err != nil {
		return nil, fmt.Errorf("failed to decode region %d: %w", rec.ID, err)
	}
	return &store.Region{
		ID:                   rec.ID,
		Definition:           rec.Definition,
		Metadata:             rec.Metadata,
		State:                state,
		Completion:           completion,
		ManifestCount:        rec.ManifestCount,
		ErroredResourceCount: rec.ErroredResourceCount,
		CreatedAt:            rec.CreatedAt,
	}, nil
}

func encodeUint64(value uint64) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	return data
}

func decodeUint64(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid uint64 bytes: expected 8 bytes, got %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}
