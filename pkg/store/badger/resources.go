package badger

import (
	"context"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// getMetaTxn reads a resource's metadata record inside txn.
func getMetaTxn(txn *badgerdb.Txn, canonical string) (*resourceMeta, error) {
	item, err := txn.Get(keyMeta(canonical))
	if err == badgerdb.ErrKeyNotFound {
		return nil, tverr.NewNotFoundError(canonical)
	}
	if err != nil {
		return nil, err
	}

	var meta *resourceMeta
	err = item.Value(func(val []byte) error {
		m, decErr := decodeMeta(val)
		if decErr != nil {
			return decErr
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func setMetaTxn(txn *badgerdb.Txn, meta *resourceMeta) error {
	data, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	return txn.Set(keyMeta(meta.Key), data)
}

// nextCounterTxn increments and returns the named uint64 counter.
func nextCounterTxn(txn *badgerdb.Txn, name string) (uint64, error) {
	var current uint64
	item, err := txn.Get(keyCounter(name))
	if err == nil {
		err = item.Value(func(val []byte) error {
			v, decErr := decodeUint64(val)
			if decErr != nil {
				return decErr
			}
			current = v
			return nil
		})
		if err != nil {
			return 0, err
		}
	} else if err != badgerdb.ErrKeyNotFound {
		return 0, err
	}

	current++
	if err := txn.Set(keyCounter(name), encodeUint64(current)); err != nil {
		return 0, err
	}
	return current, nil
}

// writeResourceTxn upserts the resource's metadata and payload records.
// The insertion sequence of an overwritten entry is preserved; linkDelta
// adjusts the reference count in the same write.
func writeResourceTxn(txn *badgerdb.Txn, res *resource.Resource, linkDelta int64) error {
	canonical := res.Key.String()

	meta := &resourceMeta{
		Key:        canonical,
		ETag:       res.ETag,
		Modified:   res.Modified,
		Expires:    res.Expires,
		Size:       int64(len(res.Payload)),
		AccessedAt: time.Now(),
	}

	existing, err := getMetaTxn(txn, canonical)
	switch {
	case err == nil:
		meta.Seq = existing.Seq
		meta.Links = existing.Links
	case tverr.IsCode(err, tverr.ErrNotFound):
		seq, seqErr := nextCounterTxn(txn, counterInsert)
		if seqErr != nil {
			return seqErr
		}
		meta.Seq = seq
	default:
		return err
	}
	meta.Links += linkDelta

	if err := setMetaTxn(txn, meta); err != nil {
		return err
	}
	return txn.Set(keyPayload(canonical), res.Payload)
}

// scanMetaTxn calls fn for every resource metadata record.
func scanMetaTxn(txn *badgerdb.Txn, fn func(meta *resourceMeta) error) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(prefixMeta)
	opts.PrefetchValues = true

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			meta, decErr := decodeMeta(val)
			if decErr != nil {
				return decErr
			}
			return fn(meta)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func countLinkedTilesTxn(txn *badgerdb.Txn) (int64, error) {
	var n int64
	err := scanMetaTxn(txn, func(meta *resourceMeta) error {
		if meta.Links == 0 {
			return nil
		}
		if key, err := resource.ParseKey(meta.Key); err == nil && key.IsTile() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) Put(ctx context.Context, res *resource.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		return writeResourceTxn(txn, res, 0)
	})
}

func (s *Store) PutLinked(ctx context.Context, res *resource.Resource, regionID int64, tileLimit int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := getRegionTxn(txn, regionID); err != nil {
			return err
		}

		canonical := res.Key.String()
		linkKey := keyLink(regionID, canonical)

		_, err := txn.Get(linkKey)
		linked := err == nil
		if err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}

		// Quota check before anything is written: only a tile gaining its
		// first link increases the global linked-tile count.
		if !linked && tileLimit > 0 && res.Key.IsTile() {
			firstLink := true
			if meta, metaErr := getMetaTxn(txn, canonical); metaErr == nil {
				firstLink = meta.Links == 0
			} else if !tverr.IsCode(metaErr, tverr.ErrNotFound) {
				return metaErr
			}
			if firstLink {
				count, countErr := countLinkedTilesTxn(txn)
				if countErr != nil {
					return countErr
				}
				if count >= tileLimit {
					return tverr.NewQuotaExceededError(tileLimit)
				}
			}
		}

		var linkDelta int64
		if !linked {
			if err := txn.Set(linkKey, nil); err != nil {
				return err
			}
			linkDelta = 1
		}
		return writeResourceTxn(txn, res, linkDelta)
	})
}

func (s *Store) Get(ctx context.Context, key resource.Key) (*resource.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *resource.Resource
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		canonical := key.String()
		meta, err := getMetaTxn(txn, canonical)
		if err != nil {
			return err
		}

		item, err := txn.Get(keyPayload(canonical))
		if err == badgerdb.ErrKeyNotFound {
			return tverr.NewNotFoundError(canonical)
		}
		if err != nil {
			return err
		}
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		// Ambient entries are touched so eviction tracks recency; pinned
		// entries are eviction-immune and keep their timestamp.
		if meta.Links == 0 {
			meta.AccessedAt = time.Now()
			if err := setMetaTxn(txn, meta); err != nil {
				return err
			}
		}

		res = &resource.Resource{
			Key:        key,
			Payload:    payload,
			ETag:       meta.ETag,
			Modified:   meta.Modified,
			Expires:    meta.Expires,
			Size:       meta.Size,
			AccessedAt: meta.AccessedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) GetMeta(ctx context.Context, key resource.Key) (*resource.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *resource.Resource
	err := s.db.View(func(txn *badgerdb.Txn) error {
		meta, err := getMetaTxn(txn, key.String())
		if err != nil {
			return err
		}
		res = &resource.Resource{
			Key:        key,
			ETag:       meta.ETag,
			Modified:   meta.Modified,
			Expires:    meta.Expires,
			Size:       meta.Size,
			AccessedAt: meta.AccessedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) Link(ctx context.Context, regionID int64, key resource.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := getRegionTxn(txn, regionID); err != nil {
			return err
		}

		canonical := key.String()
		meta, err := getMetaTxn(txn, canonical)
		if err != nil {
			return err
		}

		linkKey := keyLink(regionID, canonical)
		if _, err := txn.Get(linkKey); err == nil {
			return nil
		} else if err != badgerdb.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(linkKey, nil); err != nil {
			return err
		}
		meta.Links++
		return setMetaTxn(txn, meta)
	})
}

func (s *Store) Unlink(ctx context.Context, regionID int64, key resource.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		return unlinkTxn(txn, regionID, key.String())
	})
}

func unlinkTxn(txn *badgerdb.Txn, regionID int64, canonical string) error {
	linkKey := keyLink(regionID, canonical)
	if _, err := txn.Get(linkKey); err == badgerdb.ErrKeyNotFound {
		return nil
	} else if err != nil {
		return err
	}
	if err := txn.Delete(linkKey); err != nil {
		return err
	}

	meta, err := getMetaTxn(txn, canonical)
	if err != nil {
		if tverr.IsCode(err, tverr.ErrNotFound) {
			return nil
		}
		return err
	}
	if meta.Links > 0 {
		meta.Links--
		if meta.Links == 0 {
			// Freshly unpinned entries re-enter ambient recency tracking
			// from now rather than from their original write time.
			meta.AccessedAt = time.Now()
		}
		return setMetaTxn(txn, meta)
	}
	return nil
}

func (s *Store) TotalAmbientSize(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total int64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return scanMetaTxn(txn, func(meta *resourceMeta) error {
			if meta.Links == 0 {
				total += meta.Size
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) EvictLRU(ctx context.Context, targetBytes int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var freed int64
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		type candidate struct {
			key      string
			size     int64
			accessed time.Time
			seq      uint64
		}

		var candidates []candidate
		var ambient int64
		err := scanMetaTxn(txn, func(meta *resourceMeta) error {
			if meta.Links == 0 {
				ambient += meta.Size
				candidates = append(candidates, candidate{meta.Key, meta.Size, meta.AccessedAt, meta.Seq})
			}
			return nil
		})
		if err != nil {
			return err
		}

		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].accessed.Equal(candidates[j].accessed) {
				return candidates[i].accessed.Before(candidates[j].accessed)
			}
			return candidates[i].seq < candidates[j].seq
		})

		for _, c := range candidates {
			if ambient <= targetBytes {
				break
			}
			if err := txn.Delete(keyMeta(c.key)); err != nil {
				return err
			}
			if err := txn.Delete(keyPayload(c.key)); err != nil {
				return err
			}
			ambient -= c.size
			freed += c.size
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

func (s *Store) ClearAmbient(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var freed int64
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		var doomed []string
		err := scanMetaTxn(txn, func(meta *resourceMeta) error {
			if meta.Links == 0 {
				doomed = append(doomed, meta.Key)
				freed += meta.Size
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range doomed {
			if err := txn.Delete(keyMeta(key)); err != nil {
				return err
			}
			if err := txn.Delete(keyPayload(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

func (s *Store) InvalidateAmbient(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		var stale []*resourceMeta
		err := scanMetaTxn(txn, func(meta *resourceMeta) error {
			if meta.Links == 0 && !meta.Expires.IsZero() {
				stale = append(stale, meta)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Only the expiry is dropped. ETag and Modified survive so the
		// next use can revalidate with a conditional request.
		for _, meta := range stale {
			meta.Expires = time.Time{}
			if err := setMetaTxn(txn, meta); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CountLinkedTiles(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.View(func(txn *badgerdb.Txn) error {
		count, err := countLinkedTilesTxn(txn)
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
