package resource

import "time"

// Resource is a cached artifact: an opaque payload plus the revalidation
// metadata needed to decide freshness. A resource may be linked to zero or
// more offline regions; unlinked resources belong to the ambient cache.
type Resource struct {
	Key      Key
	Payload  []byte
	ETag     string
	Modified time.Time // origin Last-Modified
	Expires  time.Time // zero means unknown, treated as immediately stale

	// Size is the payload length in bytes, duplicated so listings and
	// accounting never need the payload loaded.
	Size int64

	// AccessedAt orders ambient eviction. The store touches it on ambient
	// reads and resets it on every write.
	AccessedAt time.Time
}

// New builds a resource for a fetched payload.
func New(key Key, payload []byte) *Resource {
	return &Resource{
		Key:     key,
		Payload: payload,
		Size:    int64(len(payload)),
	}
}

// Fresh reports whether the resource may be served without revalidation at
// the given instant. Resources without expiry metadata are always stale.
func (r *Resource) Fresh(now time.Time) bool {
	return !r.Expires.IsZero() && now.Before(r.Expires)
}

// Clone returns a deep copy. Store backends return clones so callers can
// never mutate persisted state through a shared slice.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = make([]byte, len(r.Payload))
		copy(c.Payload, r.Payload)
	}
	return &c
}
