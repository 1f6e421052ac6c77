package sqlite

import (
	"time"
)

// resourceRow is the resources table. Timestamps are stored as unix
// nanoseconds so recency ordering never depends on text datetime collation.
type resourceRow struct {
	Key      string `gorm:"primaryKey;size:1024"`
	ETag     string `gorm:"column:etag;size:256"`
	Modified int64  `gorm:"not null;default:0"`
	Expires  int64  `gorm:"not null;default:0"`
	Size     int64  `gorm:"not null;default:0"`
	Payload  []byte `gorm:"type:blob"`

	AccessedAt int64 `gorm:"not null;index:idx_resources_recency,priority:1"`

	// Seq is the insertion sequence, the eviction tiebreaker for rows
	// sharing an AccessedAt instant. Preserved across overwrites.
	Seq int64 `gorm:"not null;index:idx_resources_recency,priority:2"`
}

func (resourceRow) TableName() string { return "resources" }

// linkRow is the region_resources table: one row per (region, resource)
// association. A resource with no rows here is ambient and evictable.
type linkRow struct {
	RegionID int64  `gorm:"primaryKey;autoIncrement:false"`
	Key      string `gorm:"primaryKey;size:1024;index:idx_region_resources_key"`
}

func (linkRow) TableName() string { return "region_resources" }

// regionRow is the regions table. The definition is persisted as JSON so a
// region can be re-enumerated after a restart.
type regionRow struct {
	ID                   int64  `gorm:"primaryKey;autoIncrement"`
	Definition           string `gorm:"type:text;not null"`
	Metadata             []byte `gorm:"type:blob"`
	State                string `gorm:"not null;default:inactive;size:16"`
	Completion           string `gorm:"not null;default:none;size:32"`
	ManifestCount        int64  `gorm:"not null;default:0"`
	ErroredResourceCount int64  `gorm:"not null;default:0"`
	CreatedAt            int64  `gorm:"not null;index"`
}

func (regionRow) TableName() string { return "regions" }

func allModels() []any {
	return []any{
		&resourceRow{},
		&linkRow{},
		&regionRow{},
	}
}

// nanos flattens a time for storage; the zero time maps to 0.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromNanos restores a stored timestamp; 0 maps back to the zero time.
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
