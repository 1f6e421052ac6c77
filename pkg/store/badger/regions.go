package badger

import (
	"context"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// getRegionTxn reads a region record inside txn.
func getRegionTxn(txn *badgerdb.Txn, id int64) (*store.Region, error) {
	item, err := txn.Get(keyRegion(id))
	if err == badgerdb.ErrKeyNotFound {
		return nil, tverr.NewRegionNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}

	var reg *store.Region
	err = item.Value(func(val []byte) error {
		r, decErr := decodeRegion(val)
		if decErr != nil {
			return decErr
		}
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func setRegionTxn(txn *badgerdb.Txn, reg *store.Region) error {
	data, err := encodeRegion(reg)
	if err != nil {
		return err
	}
	return txn.Set(keyRegion(reg.ID), data)
}

// linkedKeysTxn returns the canonical keys linked to a region, read from
// the link rows rather than resource metadata.
func linkedKeysTxn(txn *badgerdb.Txn, regionID int64) ([]string, error) {
	prefix := keyLinkPrefix(regionID)

	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Item().Key()[len(prefix):]))
	}
	return keys, nil
}

// updateRegion applies mutate to a region row in one transaction.
func (s *Store) updateRegion(ctx context.Context, id int64, mutate func(reg *store.Region)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		reg, err := getRegionTxn(txn, id)
		if err != nil {
			return err
		}
		mutate(reg)
		return setRegionTxn(txn, reg)
	})
}

func (s *Store) CreateRegion(ctx context.Context, def store.RegionDefinition, metadata []byte) (*store.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reg *store.Region
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		id, err := nextCounterTxn(txn, counterRegion)
		if err != nil {
			return err
		}
		reg = &store.Region{
			ID:         int64(id),
			Definition: def,
			Metadata:   append([]byte(nil), metadata...),
			State:      store.StateInactive,
			Completion: store.CompletionNone,
			CreatedAt:  time.Now(),
		}
		return setRegionTxn(txn, reg)
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *Store) GetRegion(ctx context.Context, id int64) (*store.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var reg *store.Region
	err := s.db.View(func(txn *badgerdb.Txn) error {
		r, err := getRegionTxn(txn, id)
		if err != nil {
			return err
		}
		reg = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *Store) ListRegions(ctx context.Context) ([]*store.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var regions []*store.Region
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRegion)
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				reg, decErr := decodeRegion(val)
				if decErr != nil {
					return decErr
				}
				regions = append(regions, reg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(regions, func(i, j int) bool {
		if !regions[i].CreatedAt.Equal(regions[j].CreatedAt) {
			return regions[i].CreatedAt.Before(regions[j].CreatedAt)
		}
		return regions[i].ID < regions[j].ID
	})
	return regions, nil
}

func (s *Store) UpdateRegionState(ctx context.Context, id int64, state store.State, completion store.Completion) error {
	return s.updateRegion(ctx, id, func(reg *store.Region) {
		reg.State = state
		reg.Completion = completion
	})
}

func (s *Store) UpdateRegionMetadata(ctx context.Context, id int64, metadata []byte) error {
	return s.updateRegion(ctx, id, func(reg *store.Region) {
		reg.Metadata = append([]byte(nil), metadata...)
	})
}

func (s *Store) SetRegionManifestCount(ctx context.Context, id int64, n int64) error {
	return s.updateRegion(ctx, id, func(reg *store.Region) {
		reg.ManifestCount = n
	})
}

func (s *Store) AddRegionError(ctx context.Context, id int64) error {
	return s.updateRegion(ctx, id, func(reg *store.Region) {
		reg.ErroredResourceCount++
	})
}

func (s *Store) ResetRegionErrors(ctx context.Context, id int64) error {
	return s.updateRegion(ctx, id, func(reg *store.Region) {
		reg.ErroredResourceCount = 0
	})
}

func (s *Store) DeleteRegion(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := getRegionTxn(txn, id); err != nil {
			return err
		}

		keys, err := linkedKeysTxn(txn, id)
		if err != nil {
			return err
		}
		for _, canonical := range keys {
			if err := unlinkTxn(txn, id, canonical); err != nil {
				return err
			}
		}
		return txn.Delete(keyRegion(id))
	})
}

func (s *Store) RegionProgress(ctx context.Context, id int64) (*store.Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := &store.Progress{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		if _, err := getRegionTxn(txn, id); err != nil {
			return err
		}

		keys, err := linkedKeysTxn(txn, id)
		if err != nil {
			return err
		}
		for _, canonical := range keys {
			meta, err := getMetaTxn(txn, canonical)
			if err != nil {
				if tverr.IsCode(err, tverr.ErrNotFound) {
					continue
				}
				return err
			}
			p.CompletedResourceCount++
			p.CompletedBytes += meta.Size
			if key, err := resource.ParseKey(canonical); err == nil && key.IsTile() {
				p.CompletedTileCount++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) LinkedKeys(ctx context.Context, id int64) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	err := s.db.View(func(txn *badgerdb.Txn) error {
		if _, err := getRegionTxn(txn, id); err != nil {
			return err
		}

		linked, err := linkedKeysTxn(txn, id)
		if err != nil {
			return err
		}
		for _, canonical := range linked {
			keys[canonical] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) InvalidateRegion(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := getRegionTxn(txn, id); err != nil {
			return err
		}

		keys, err := linkedKeysTxn(txn, id)
		if err != nil {
			return err
		}
		for _, canonical := range keys {
			meta, err := getMetaTxn(txn, canonical)
			if err != nil {
				if tverr.IsCode(err, tverr.ErrNotFound) {
					continue
				}
				return err
			}
			if meta.Expires.IsZero() {
				continue
			}
			meta.Expires = time.Time{}
			if err := setMetaTxn(txn, meta); err != nil {
				return err
			}
		}
		return nil
	})
}
