package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

func rowToRegion(row *regionRow) (*store.Region, error) {
	var def store.RegionDefinition
	if err := json.Unmarshal([]byte(row.Definition), &def); err != nil {
		return nil, fmt.Errorf("failed to decode region %d definition: %w", row.ID, err)
	}
	state, err := store.ParseState(row.State)
	if err != nil {
		return nil, fmt.Errorf("failed to decode region %d: %w", row.ID, err)
	}
	completion, err := store.ParseCompletion(row.Completion)
	if err != nil {
		return nil, fmt.Errorf("failed to decode region %d: %w", row.ID, err)
	}
	return &store.Region{
		ID:                   row.ID,
		Definition:           def,
		Metadata:             row.Metadata,
		State:                state,
		Completion:           completion,
		ManifestCount:        row.ManifestCount,
		ErroredResourceCount: row.ErroredResourceCount,
		CreatedAt:            fromNanos(row.CreatedAt),
	}, nil
}

func (s *Store) CreateRegion(ctx context.Context, def store.RegionDefinition, metadata []byte) (*store.Region, error) {
	defJSON, err := json.Marshal(&def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode region definition: %w", err)
	}

	row := regionRow{
		Definition: string(defJSON),
		Metadata:   metadata,
		State:      store.StateInactive.String(),
		Completion: store.CompletionNone.String(),
		CreatedAt:  time.Now().UnixNano(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return rowToRegion(&row)
}

func (s *Store) GetRegion(ctx context.Context, id int64) (*store.Region, error) {
	var row regionRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, convertNotFoundError(err, tverr.NewRegionNotFoundError(id))
	}
	return rowToRegion(&row)
}

func (s *Store) ListRegions(ctx context.Context) ([]*store.Region, error) {
	var rows []regionRow
	err := s.db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	regions := make([]*store.Region, 0, len(rows))
	for i := range rows {
		reg, err := rowToRegion(&rows[i])
		if err != nil {
			return nil, err
		}
		regions = append(regions, reg)
	}
	return regions, nil
}

// updateRegion applies column updates to a region row, mapping a missing
// row onto RegionNotFound.
func (s *Store) updateRegion(ctx context.Context, id int64, updates map[string]any) error {
	result := s.db.WithContext(ctx).Model(&regionRow{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return tverr.NewRegionNotFoundError(id)
	}
	return nil
}

func (s *Store) UpdateRegionState(ctx context.Context, id int64, state store.State, completion store.Completion) error {
	return s.updateRegion(ctx, id, map[string]any{
		"state":      state.String(),
		"completion": completion.String(),
	})
}

func (s *Store) UpdateRegionMetadata(ctx context.Context, id int64, metadata []byte) error {
	return s.updateRegion(ctx, id, map[string]any{"metadata": metadata})
}

func (s *Store) SetRegionManifestCount(ctx context.Context, id int64, n int64) error {
	return s.updateRegion(ctx, id, map[string]any{"manifest_count": n})
}

func (s *Store) AddRegionError(ctx context.Context, id int64) error {
	return s.updateRegion(ctx, id, map[string]any{
		"errored_resource_count": gorm.Expr("errored_resource_count + 1"),
	})
}

func (s *Store) ResetRegionErrors(ctx context.Context, id int64) error {
	return s.updateRegion(ctx, id, map[string]any{"errored_resource_count": 0})
}

func (s *Store) DeleteRegion(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg regionRow
		if err := tx.First(&reg, id).Error; err != nil {
			return convertNotFoundError(err, tverr.NewRegionNotFoundError(id))
		}

		// Resources losing their last link re-enter ambient recency
		// tracking from now rather than from their original write time.
		err := tx.Model(&resourceRow{}).
			Where("key IN (SELECT key FROM region_resources WHERE region_id = ?)", id).
			Where("NOT EXISTS (SELECT 1 FROM region_resources l2 WHERE l2.key = resources.key AND l2.region_id != ?)", id).
			Update("accessed_at", time.Now().UnixNano()).Error
		if err != nil {
			return err
		}

		if err := tx.Where("region_id = ?", id).Delete(&linkRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&regionRow{}, id).Error
	})
}

func (s *Store) RegionProgress(ctx context.Context, id int64) (*store.Progress, error) {
	p := &store.Progress{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg regionRow
		if err := tx.First(&reg, id).Error; err != nil {
			return convertNotFoundError(err, tverr.NewRegionNotFoundError(id))
		}

		row := tx.Raw(`
			SELECT COUNT(*), COALESCE(SUM(r.size), 0)
			FROM resources r
			JOIN region_resources l ON l.key = r.key
			WHERE l.region_id = ?`, id).Row()
		if err := row.Scan(&p.CompletedResourceCount, &p.CompletedBytes); err != nil {
			return err
		}

		row = tx.Raw(`
			SELECT COUNT(*)
			FROM resources r
			JOIN region_resources l ON l.key = r.key
			WHERE l.region_id = ? AND r.key LIKE ?`, id, tileKeyPattern).Row()
		return row.Scan(&p.CompletedTileCount)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) LinkedKeys(ctx context.Context, id int64) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg regionRow
		if err := tx.First(&reg, id).Error; err != nil {
			return convertNotFoundError(err, tverr.NewRegionNotFoundError(id))
		}

		var linked []string
		if err := tx.Model(&linkRow{}).Where("region_id = ?", id).Pluck("key", &linked).Error; err != nil {
			return err
		}
		for _, k := range linked {
			keys[k] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) InvalidateRegion(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reg regionRow
		if err := tx.First(&reg, id).Error; err != nil {
			return convertNotFoundError(err, tverr.NewRegionNotFoundError(id))
		}

		return tx.Model(&resourceRow{}).
			Where("key IN (SELECT key FROM region_resources WHERE region_id = ?)", id).
			Where("expires != 0").
			Update("expires", 0).Error
	})
}
