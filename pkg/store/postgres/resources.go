package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// tileKeyPattern matches canonical tile keys in SQL.
var tileKeyPattern = resource.KindTile.String() + "|%"

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

// upsertResourceTx writes the resource row. The seq column is assigned by
// its sequence on first insert and deliberately not updated on conflict,
// preserving insertion order across overwrites.
func upsertResourceTx(ctx context.Context, tx pgx.Tx, res *resource.Resource) error {
	const query = `
		INSERT INTO resources (key, etag, modified, expires, size, payload, accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			etag = EXCLUDED.etag,
			modified = EXCLUDED.modified,
			expires = EXCLUDED.expires,
			size = EXCLUDED.size,
			payload = EXCLUDED.payload,
			accessed_at = EXCLUDED.accessed_at`

	_, err := tx.Exec(ctx, query,
		res.Key.String(),
		res.ETag,
		nanos(res.Modified),
		nanos(res.Expires),
		int64(len(res.Payload)),
		res.Payload,
		time.Now().UnixNano(),
	)
	if err != nil {
		return mapPgError(err, "upsert resource", res.Key.String())
	}
	return nil
}

func regionExistsTx(ctx context.Context, tx pgx.Tx, regionID int64) error {
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM regions WHERE id = $1`, regionID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return tverr.NewRegionNotFoundError(regionID)
	}
	if err != nil {
		return mapPgError(err, "get region", "")
	}
	return nil
}

func countLinkedTilesTx(ctx context.Context, tx pgx.Tx) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx,
		`SELECT COUNT(DISTINCT key) FROM region_resources WHERE key LIKE $1`,
		tileKeyPattern).Scan(&n)
	if err != nil {
		return 0, mapPgError(err, "count linked tiles", "")
	}
	return n, nil
}

func (s *Store) Put(ctx context.Context, res *resource.Resource) error {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	if err := upsertResourceTx(ctx, tx, res); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) PutLinked(ctx context.Context, res *resource.Resource, regionID int64, tileLimit int64) error {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	if err := regionExistsTx(ctx, tx, regionID); err != nil {
		return err
	}

	canonical := res.Key.String()
	var linked bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM region_resources WHERE region_id = $1 AND key = $2)`,
		regionID, canonical).Scan(&linked)
	if err != nil {
		return mapPgError(err, "check link", canonical)
	}

	// Quota check before anything is written: only a tile gaining its
	// first link increases the global linked-tile count.
	if !linked && tileLimit > 0 && res.Key.IsTile() {
		var hasLinks bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM region_resources WHERE key = $1)`,
			canonical).Scan(&hasLinks)
		if err != nil {
			return mapPgError(err, "check link", canonical)
		}
		if !hasLinks {
			count, err := countLinkedTilesTx(ctx, tx)
			if err != nil {
				return err
			}
			if count >= tileLimit {
				return tverr.NewQuotaExceededError(tileLimit)
			}
		}
	}

	if err := upsertResourceTx(ctx, tx, res); err != nil {
		return err
	}
	if !linked {
		_, err = tx.Exec(ctx,
			`INSERT INTO region_resources (region_id, key) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			regionID, canonical)
		if err != nil {
			return mapPgError(err, "link resource", canonical)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, key resource.Key) (*resource.Resource, error) {
	canonical := key.String()

	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollback()

	res := &resource.Resource{Key: key}
	var modified, expires, accessed int64
	err = tx.QueryRow(ctx,
		`SELECT etag, modified, expires, size, payload, accessed_at FROM resources WHERE key = $1`,
		canonical).Scan(&res.ETag, &modified, &expires, &res.Size, &res.Payload, &accessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tverr.NewNotFoundError(canonical)
	}
	if err != nil {
		return nil, mapPgError(err, "get resource", canonical)
	}
	res.Modified = fromNanos(modified)
	res.Expires = fromNanos(expires)
	res.AccessedAt = fromNanos(accessed)

	var linked bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM region_resources WHERE key = $1)`,
		canonical).Scan(&linked)
	if err != nil {
		return nil, mapPgError(err, "check link", canonical)
	}

	// Ambient entries are touched so eviction tracks recency; pinned
	// entries are eviction-immune and keep their timestamp.
	if !linked {
		now := time.Now()
		_, err = tx.Exec(ctx,
			`UPDATE resources SET accessed_at = $1 WHERE key = $2`,
			now.UnixNano(), canonical)
		if err != nil {
			return nil, mapPgError(err, "touch resource", canonical)
		}
		res.AccessedAt = now
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err, "get resource", canonical)
	}
	return res, nil
}

func (s *Store) GetMeta(ctx context.Context, key resource.Key) (*resource.Resource, error) {
	canonical := key.String()

	res := &resource.Resource{Key: key}
	var modified, expires, accessed int64
	err := s.pool.QueryRow(ctx,
		`SELECT etag, modified, expires, size, accessed_at FROM resources WHERE key = $1`,
		canonical).Scan(&res.ETag, &modified, &expires, &res.Size, &accessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tverr.NewNotFoundError(canonical)
	}
	if err != nil {
		return nil, mapPgError(err, "get resource metadata", canonical)
	}
	res.Modified = fromNanos(modified)
	res.Expires = fromNanos(expires)
	res.AccessedAt = fromNanos(accessed)
	return res, nil
}

func (s *Store) Link(ctx context.Context, regionID int64, key resource.Key) error {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	if err := regionExistsTx(ctx, tx, regionID); err != nil {
		return err
	}

	canonical := key.String()
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM resources WHERE key = $1)`,
		canonical).Scan(&exists)
	if err != nil {
		return mapPgError(err, "get resource", canonical)
	}
	if !exists {
		return tverr.NewNotFoundError(canonical)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO region_resources (region_id, key) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		regionID, canonical)
	if err != nil {
		return mapPgError(err, "link resource", canonical)
	}
	return tx.Commit(ctx)
}

func (s *Store) Unlink(ctx context.Context, regionID int64, key resource.Key) error {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer rollback()

	canonical := key.String()
	tag, err := tx.Exec(ctx,
		`DELETE FROM region_resources WHERE region_id = $1 AND key = $2`,
		regionID, canonical)
	if err != nil {
		return mapPgError(err, "unlink resource", canonical)
	}
	if tag.RowsAffected() > 0 {
		var remaining bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM region_resources WHERE key = $1)`,
			canonical).Scan(&remaining)
		if err != nil {
			return mapPgError(err, "check link", canonical)
		}
		if !remaining {
			// Freshly unpinned entries re-enter ambient recency tracking
			// from now rather than from their original write time.
			_, err = tx.Exec(ctx,
				`UPDATE resources SET accessed_at = $1 WHERE key = $2`,
				time.Now().UnixNano(), canonical)
			if err != nil {
				return mapPgError(err, "touch resource", canonical)
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) TotalAmbientSize(ctx context.Context) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(size), 0) FROM resources r
		WHERE NOT EXISTS (SELECT 1 FROM region_resources l WHERE l.key = r.key)`).Scan(&total)
	if err != nil {
		return 0, mapPgError(err, "sum ambient size", "")
	}
	return total, nil
}

func (s *Store) EvictLRU(ctx context.Context, targetBytes int64) (int64, error) {
	tx, rollback, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer rollback()

	rows, err := tx.Query(ctx, `
		SELECT key, size FROM resources r
		WHERE NOT EXISTS (SELECT 1 FROM region_resources l WHERE l.key = r.key)
		ORDER BY accessed_at ASC, seq ASC`)
	if err != nil {
		return 0, mapPgError(err, "list evictable", "")
	}

	type candidate struct {
		key  string
		size int64
	}
	var candidates []candidate
	var ambient int64
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.key, &c.size); err != nil {
			rows.Close()
			return 0, mapPgError(err, "list evictable", "")
		}
		candidates = append(candidates, c)
		ambient += c.size
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, mapPgError(err, "list evictable", "")
	}

	var freed int64
	var doomed []string
	for _, c := range candidates {
		if ambient <= targetBytes {
			break
		}
		doomed = append(doomed, c.key)
		ambient -= c.size
		freed += c.size
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM resources WHERE key = ANY($1)`, doomed); err != nil {
		return 0, mapPgError(err, "evict resources", "")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, mapPgError(err, "evict resources", "")
	}
	return freed, nil
}

func (s *Store) ClearAmbient(ctx context.Context) (int64, error) {
	var freed int64
	err := s.pool.QueryRow(ctx, `
		WITH doomed AS (
			DELETE FROM resources r
			WHERE NOT EXISTS (SELECT 1 FROM region_resources l WHERE l.key = r.key)
			RETURNING size
		)
		SELECT COALESCE(SUM(size), 0) FROM doomed`).Scan(&freed)
	if err != nil {
		return 0, mapPgError(err, "clear ambient", "")
	}
	return freed, nil
}

func (s *Store) InvalidateAmbient(ctx context.Context) error {
	// Only the expiry is dropped. ETag and Modified survive so the next
	// use can revalidate with a conditional request.
	_, err := s.pool.Exec(ctx, `
		UPDATE resources r SET expires = 0
		WHERE expires != 0
		  AND NOT EXISTS (SELECT 1 FROM region_resources l WHERE l.key = r.key)`)
	if err != nil {
		return mapPgError(err, "invalidate ambient", "")
	}
	return nil
}

func (s *Store) CountLinkedTiles(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT key) FROM region_resources WHERE key LIKE $1`,
		tileKeyPattern).Scan(&n)
	if err != nil {
		return 0, mapPgError(err, "count linked tiles", "")
	}
	return n, nil
}
