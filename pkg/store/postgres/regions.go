package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

const regionColumns = `id, definition, metadata, state, completion, manifest_count, errored_resource_count, created_at`

// scanRegion decodes one region row from a query using regionColumns.
func scanRegion(row pgx.Row) (*store.Region, error) {
	var (
		reg        store.Region
		defJSON    []byte
		state      string
		completion string
		createdAt  int64
	)
	err := row.Scan(&reg.ID, &defJSON, &reg.Metadata, &state, &completion,
		&reg.ManifestCount, &reg.ErroredResourceCount, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(defJSON, &reg.Definition); err != nil {
		return nil, fmt.Errorf("failed to decode region %d definition: %w", reg.ID, err)
	}
	if reg.State, err = store.ParseState(state); err != nil {
		return nil, fmt.Errorf("failed to decode region %d: %w", reg.ID, err)
	}
	if reg.Completion, err = store.ParseCompletion(completion); err != nil {
		return nil, fmt.Errorf("failed to decode region %d: %w", reg.ID, err)
	}
	reg.CreatedAt = fromNanos(createdAt)
	return &reg, nil
}

func (s *Store) CreateRegion(ctx context.Context, def store.RegionDefinition, metadata []byte) (*store.Region, error) {
	defJSON, err := json.Marshal(&def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode region definition: %w", err)
	}

	reg := &store.Region{
		Definition: def,
		Metadata:   metadata,
		State:      store.StateInactive,
		Completion: store.CompletionNone,
		CreatedAt:  time.Now(),
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO regions (definition, metadata, state, completion, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		defJSON, metadata, reg.State.String(), reg.Completion.String(), reg.CreatedAt.UnixNano(),
	).Scan(&reg.ID)
	if err != nil {
		return nil, mapPgError(err, "create region", "")
	}
	return reg, nil
}

func (s *Store) GetRegion(ctx context.Context, id int64) (*store.Region, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+regionColumns+` FROM regions WHERE id = $1`, id)
	reg, err := scanRegion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tverr.NewRegionNotFoundError(id)
	}
	if err != nil {
		return nil, mapPgError(err, "get region", "")
	}
	return reg, nil
}

func (s *Store) ListRegions(ctx context.Context) ([]*store.Region, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+regionColumns+` FROM regions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, mapPgError(err, "list regions", "")
	}
	defer rows.Close()

	var regions []*store.Region
	for rows.Next() {
		reg, err := scanRegion(rows)
		if err != nil {
			return nil, mapPgError(err, "list regions", "")
		}
		regions = append(regions, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "list regions", "")
	}
	return regions, nil
}

// execRegionUpdate runs an UPDATE that must affect the region row, mapping
// zero affected rows onto RegionNotFound.
func (s *Store) execRegionUpdate(ctx context.Context, id int64, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapPgError(err, "update region", "")
	}
	if tag.RowsAffected() == 0 {
		return tverr.NewRegionNotFoundError(id)
	}
	return nil
}

func (s *Store) UpdateRegionState(ctx context.Context, id int64, state store.State, completion store.Completion) error {
	return s.execRegionUpdate(ctx, id,
		`UPDATE regions SET state = $2, completion = $3 WHERE id = $1`,
		id, state.String(), completion.String())
}

func (s *Store) UpdateRegionMetadata(ctx context.Context, id int64, metadata []byte) error {
	return s.execRegionUpdate(ctx, id,
		`UPDATE regions SET metadata = $2 WHERE id = $1`, id, metadata)
}

func (s *Store) SetRegionManifestCount(ctx context.Context, id int64, n int64) error {
	return s.execRegionUpdate(ctx, id,
		`UPDATE regions SET manifest_count = $2 WHERE id = $1`, id, n)
}

func (s *Store) AddRegionError(ctx context.Context, id int64) error {
	return s.execRegionUpdate(ctx, id,
		`UPDATE regions SET errored_resource_count = errored_resource_count + 1 WHERE id = $1`, id)
}

func (s *Store) ResetRegionErrors(ctx context.Context, id int64) error {
	return s.execRegionUpdate(ctx, id,
		`UPDATE regions SET errored_resource_count = 0 WHERE id = $1`, id)
}

func (s *Store) DeleteRegion(ctx context.Context, id int64) error {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	if err := regionExistsTx(ctx, tx, id); err != nil {
		return err
	}

	// Resources losing their last link re-enter ambient recency tracking
	// from now rather than from their original write time.
	_, err = tx.Exec(ctx, `
		UPDATE resources r SET accessed_at = $2
		WHERE r.key IN (SELECT key FROM region_resources WHERE region_id = $1)
		  AND NOT EXISTS (
			SELECT 1 FROM region_resources l2
			WHERE l2.key = r.key AND l2.region_id != $1
		  )`, id, time.Now().UnixNano())
	if err != nil {
		return mapPgError(err, "release region resources", "")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM region_resources WHERE region_id = $1`, id); err != nil {
		return mapPgError(err, "delete region links", "")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM regions WHERE id = $1`, id); err != nil {
		return mapPgError(err, "delete region", "")
	}
	return tx.Commit(ctx)
}

func (s *Store) RegionProgress(ctx context.Context, id int64) (*store.Progress, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback()

	if err := regionExistsTx(ctx, tx, id); err != nil {
		return nil, err
	}

	p := &store.Progress{}
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(r.size), 0)
		FROM resources r
		JOIN region_resources l ON l.key = r.key
		WHERE l.region_id = $1`, id).Scan(&p.CompletedResourceCount, &p.CompletedBytes)
	if err != nil {
		return nil, mapPgError(err, "region progress", "")
	}

	err = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM region_resources
		WHERE region_id = $1 AND key LIKE $2`, id, tileKeyPattern).Scan(&p.CompletedTileCount)
	if err != nil {
		return nil, mapPgError(err, "region progress", "")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err, "region progress", "")
	}
	return p, nil
}

func (s *Store) LinkedKeys(ctx context.Context, id int64) (map[string]struct{}, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback()

	if err := regionExistsTx(ctx, tx, id); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `SELECT key FROM region_resources WHERE region_id = $1`, id)
	if err != nil {
		return nil, mapPgError(err, "list linked keys", "")
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, mapPgError(err, "list linked keys", "")
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "list linked keys", "")
	}
	return keys, nil
}

func (s *Store) InvalidateRegion(ctx context.Context, id int64) error {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	if err := regionExistsTx(ctx, tx, id); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE resources SET expires = 0
		WHERE expires != 0
		  AND key IN (SELECT key FROM region_resources WHERE region_id = $1)`, id)
	if err != nil {
		return mapPgError(err, "invalidate region", "")
	}
	return tx.Commit(ctx)
}
