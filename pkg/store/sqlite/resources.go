package sqlite

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// ambientCond selects resources with no region link, the evictable set.
const ambientCond = "NOT EXISTS (SELECT 1 FROM region_resources l WHERE l.key = resources.key)"

// tileKeyPattern matches canonical tile keys in SQL.
var tileKeyPattern = resource.KindTile.String() + "|%"

func rowToResource(row *resourceRow, key resource.Key) *resource.Resource {
	return &resource.Resource{
		Key:        key,
		Payload:    row.Payload,
		ETag:       row.ETag,
		Modified:   fromNanos(row.Modified),
		Expires:    fromNanos(row.Expires),
		Size:       row.Size,
		AccessedAt: fromNanos(row.AccessedAt),
	}
}

// upsertResourceTxn writes the resource row, preserving the insertion
// sequence of an overwritten entry.
func upsertResourceTxn(tx *gorm.DB, res *resource.Resource) error {
	canonical := res.Key.String()
	row := resourceRow{
		Key:        canonical,
		ETag:       res.ETag,
		Modified:   nanos(res.Modified),
		Expires:    nanos(res.Expires),
		Size:       int64(len(res.Payload)),
		Payload:    res.Payload,
		AccessedAt: time.Now().UnixNano(),
	}

	var existing resourceRow
	err := tx.Select("seq").Where("key = ?", canonical).First(&existing).Error
	switch {
	case err == nil:
		row.Seq = existing.Seq
		return tx.Model(&resourceRow{}).Where("key = ?", canonical).Updates(map[string]any{
			"etag":        row.ETag,
			"modified":    row.Modified,
			"expires":     row.Expires,
			"size":        row.Size,
			"payload":     row.Payload,
			"accessed_at": row.AccessedAt,
		}).Error

	case errors.Is(err, gorm.ErrRecordNotFound):
		var seq int64
		if err := tx.Model(&resourceRow{}).Select("COALESCE(MAX(seq), 0) + 1").Scan(&seq).Error; err != nil {
			return err
		}
		row.Seq = seq
		return tx.Create(&row).Error

	default:
		return err
	}
}

func linkCountTxn(tx *gorm.DB, canonical string) (int64, error) {
	var n int64
	err := tx.Model(&linkRow{}).Where("key = ?", canonical).Count(&n).Error
	return n, err
}

func countLinkedTilesTxn(tx *gorm.DB) (int64, error) {
	var n int64
	err := tx.Model(&resourceRow{}).
		Where("key LIKE ?", tileKeyPattern).
		Where("EXISTS (SELECT 1 FROM region_resources l WHERE l.key = resources.key)").
		Count(&n).Error
	return n, err
}

func (s *Store) Put(ctx context.Context, res *resource.Resource) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertResourceTxn(tx, res)
	})
}

func (s *Store) PutLinked(ctx context.Context, res *resource.Resource, regionID int64, tileLimit int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg regionRow
		if err := tx.First(&reg, regionID).Error; err != nil {
			return convertNotFoundError(err, tverr.NewRegionNotFoundError(regionID))
		}

		canonical := res.Key.String()
		var linked int64
		err := tx.Model(&linkRow{}).
			Where("region_id = ? AND key = ?", regionID, canonical).
			Count(&linked).Error
		if err != nil {
			return err
		}

		// Quota check before anything is written: only a tile gaining its
		// first link increases the global linked-tile count.
		if linked == 0 && tileLimit > 0 && res.Key.IsTile() {
			links, err := linkCountTxn(tx, canonical)
			if err != nil {
				return err
			}
			if links == 0 {
				count, err := countLinkedTilesTxn(tx)
				if err != nil {
					return err
				}
				if count >= tileLimit {
					return tverr.NewQuotaExceededError(tileLimit)
				}
			}
		}

		if err := upsertResourceTxn(tx, res); err != nil {
			return err
		}
		if linked == 0 {
			if err := tx.Create(&linkRow{RegionID: regionID, Key: canonical}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, key resource.Key) (*resource.Resource, error) {
	canonical := key.String()

	var row resourceRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("key = ?", canonical).First(&row).Error; err != nil {
			return convertNotFoundError(err, tverr.NewNotFoundError(canonical))
		}

		links, err := linkCountTxn(tx, canonical)
		if err != nil {
			return err
		}

		// Ambient entries are touched so eviction tracks recency; pinned
		// entries are eviction-immune and keep their timestamp.
		if links == 0 {
			now := time.Now().UnixNano()
			if err := tx.Model(&resourceRow{}).Where("key = ?", canonical).
				Update("accessed_at", now).Error; err != nil {
				return err
			}
			row.AccessedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rowToResource(&row, key), nil
}

func (s *Store) GetMeta(ctx context.Context, key resource.Key) (*resource.Resource, error) {
	canonical := key.String()

	var row resourceRow
	err := s.db.WithContext(ctx).
		Select("key", "etag", "modified", "expires", "size", "accessed_at", "seq").
		Where("key = ?", canonical).
		First(&row).Error
	if err != nil {
		return nil, convertNotFoundError(err, tverr.NewNotFoundError(canonical))
	}
	return rowToResource(&row, key), nil
}

func (s *Store) Link(ctx context.Context, regionID int64, key resource.Key) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg regionRow
		if err := tx.First(&reg, regionID).Error; err != nil {
			return convertNotFoundError(err, tverr.NewRegionNotFoundError(regionID))
		}

		canonical := key.String()
		var row resourceRow
		if err := tx.Select("key").Where("key = ?", canonical).First(&row).Error; err != nil {
			return convertNotFoundError(err, tverr.NewNotFoundError(canonical))
		}

		var linked int64
		err := tx.Model(&linkRow{}).
			Where("region_id = ? AND key = ?", regionID, canonical).
			Count(&linked).Error
		if err != nil {
			return err
		}
		if linked > 0 {
			return nil
		}
		return tx.Create(&linkRow{RegionID: regionID, Key: canonical}).Error
	})
}

func (s *Store) Unlink(ctx context.Context, regionID int64, key resource.Key) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		canonical := key.String()
		result := tx.Where("region_id = ? AND key = ?", regionID, canonical).Delete(&linkRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		remaining, err := linkCountTxn(tx, canonical)
		if err != nil {
			return err
		}
		if remaining == 0 {
			// Freshly unpinned entries re-enter ambient recency tracking
			// from now rather than from their original write time.
			return tx.Model(&resourceRow{}).Where("key = ?", canonical).
				Update("accessed_at", time.Now().UnixNano()).Error
		}
		return nil
	})
}

func (s *Store) TotalAmbientSize(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&resourceRow{}).
		Where(ambientCond).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) EvictLRU(ctx context.Context, targetBytes int64) (int64, error) {
	var freed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		type candidate struct {
			Key  string
			Size int64
		}

		var candidates []candidate
		err := tx.Model(&resourceRow{}).
			Where(ambientCond).
			Order("accessed_at ASC, seq ASC").
			Select("key", "size").
			Find(&candidates).Error
		if err != nil {
			return err
		}

		var ambient int64
		for _, c := range candidates {
			ambient += c.Size
		}

		var doomed []string
		for _, c := range candidates {
			if ambient <= targetBytes {
				break
			}
			doomed = append(doomed, c.Key)
			ambient -= c.Size
			freed += c.Size
		}
		if len(doomed) == 0 {
			return nil
		}
		return tx.Where("key IN ?", doomed).Delete(&resourceRow{}).Error
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

func (s *Store) ClearAmbient(ctx context.Context) (int64, error) {
	var freed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&resourceRow{}).
			Where(ambientCond).
			Select("COALESCE(SUM(size), 0)").
			Scan(&freed).Error
		if err != nil {
			return err
		}
		return tx.Where(ambientCond).Delete(&resourceRow{}).Error
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

func (s *Store) InvalidateAmbient(ctx context.Context) error {
	// Only the expiry is dropped. ETag and Modified survive so the next
	// use can revalidate with a conditional request.
	return s.db.WithContext(ctx).Model(&resourceRow{}).
		Where(ambientCond).
		Where("expires != 0").
		Update("expires", 0).Error
}

func (s *Store) CountLinkedTiles(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := countLinkedTilesTxn(tx)
		if err != nil {
			return err
		}
		n = count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
