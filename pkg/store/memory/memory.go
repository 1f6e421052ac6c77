// Package memory provides an in-memory resource store. It backs tests and
// ephemeral runs; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// entry is a stored resource plus bookkeeping invisible to callers.
type entry struct {
	res *resource.Resource

	// seq is the insertion sequence, the eviction tiebreaker for entries
	// sharing an AccessedAt instant. Assigned on first insert and preserved
	// across overwrites.
	seq uint64

	links int
}

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	resources map[string]*entry
	links     map[int64]map[string]struct{}
	regions   map[int64]*store.Region

	nextSeq      uint64
	nextRegionID int64

	closed bool
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		resources: make(map[string]*entry),
		links:     make(map[int64]map[string]struct{}),
		regions:   make(map[int64]*store.Region),
	}
}

func (s *Store) Put(ctx context.Context, res *resource.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tverr.NewIOError("store closed", nil)
	}

	s.putLocked(res)
	return nil
}

// putLocked upserts the resource, preserving the insertion sequence of an
// overwritten entry.
func (s *Store) putLocked(res *resource.Resource) *entry {
	key := res.Key.String()
	stored := res.Clone()
	stored.Size = int64(len(stored.Payload))
	stored.AccessedAt = time.Now()

	e, ok := s.resources[key]
	if !ok {
		s.nextSeq++
		e = &entry{seq: s.nextSeq}
		s.resources[key] = e
	}
	e.res = stored
	return e
}

func (s *Store) PutLinked(ctx context.Context, res *resource.Resource, regionID int64, tileLimit int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tverr.NewIOError("store closed", nil)
	}
	if _, ok := s.regions[regionID]; !ok {
		return tverr.NewRegionNotFoundError(regionID)
	}

	key := res.Key.String()
	linked := false
	if set, ok := s.links[regionID]; ok {
		_, linked = set[key]
	}

	// Quota check before anything is persisted: only a tile gaining its
	// first link increases the global linked-tile count.
	if tileLimit > 0 && res.Key.IsTile() && !linked {
		e, exists := s.resources[key]
		firstLink := !exists || e.links == 0
		if firstLink && s.countLinkedTilesLocked() >= tileLimit {
			return tverr.NewQuotaExceededError(tileLimit)
		}
	}

	e := s.putLocked(res)
	if !linked {
		set := s.links[regionID]
		if set == nil {
			set = make(map[string]struct{})
			s.links[regionID] = set
		}
		set[key] = struct{}{}
		e.links++
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key resource.Key) (*resource.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.resources[key.String()]
	if !ok {
		return nil, tverr.NewNotFoundError(key.String())
	}

	// Ambient entries are touched so eviction tracks recency; pinned entries
	// are eviction-immune and keep their timestamp.
	if e.links == 0 {
		e.res.AccessedAt = time.Now()
	}
	return e.res.Clone(), nil
}

func (s *Store) GetMeta(ctx context.Context, key resource.Key) (*resource.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.resources[key.String()]
	if !ok {
		return nil, tverr.NewNotFoundError(key.String())
	}

	meta := *e.res
	meta.Payload = nil
	return &meta, nil
}

func (s *Store) Link(ctx context.Context, regionID int64, key resource.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.regions[regionID]; !ok {
		return tverr.NewRegionNotFoundError(regionID)
	}
	e, ok := s.resources[key.String()]
	if !ok {
		return tverr.NewNotFoundError(key.String())
	}

	set := s.links[regionID]
	if set == nil {
		set = make(map[string]struct{})
		s.links[regionID] = set
	}
	if _, dup := set[key.String()]; !dup {
		set[key.String()] = struct{}{}
		e.links++
	}
	return nil
}

func (s *Store) Unlink(ctx context.Context, regionID int64, key resource.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlinkLocked(regionID, key.String())
	return nil
}

func (s *Store) unlinkLocked(regionID int64, key string) {
	set, ok := s.links[regionID]
	if !ok {
		return
	}
	if _, linked := set[key]; !linked {
		return
	}
	delete(set, key)
	if e, ok := s.resources[key]; ok && e.links > 0 {
		e.links--
		if e.links == 0 {
			// Freshly unpinned entries re-enter ambient recency tracking
			// from now rather than from their original write time.
			e.res.AccessedAt = time.Now()
		}
	}
}

func (s *Store) TotalAmbientSize(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ambientSizeLocked(), nil
}

func (s *Store) ambientSizeLocked() int64 {
	var total int64
	for _, e := range s.resources {
		if e.links == 0 {
			total += e.res.Size
		}
	}
	return total
}

func (s *Store) EvictLRU(ctx context.Context, targetBytes int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		key      string
		size     int64
		accessed time.Time
		seq      uint64
	}

	var candidates []candidate
	for key, e := range s.resources {
		if e.links == 0 {
			candidates = append(candidates, candidate{key, e.res.Size, e.res.AccessedAt, e.seq})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].accessed.Equal(candidates[j].accessed) {
			return candidates[i].accessed.Before(candidates[j].accessed)
		}
		return candidates[i].seq < candidates[j].seq
	})

	ambient := s.ambientSizeLocked()
	var freed int64
	for _, c := range candidates {
		if ambient <= targetBytes {
			break
		}
		delete(s.resources, c.key)
		ambient -= c.size
		freed += c.size
	}
	return freed, nil
}

func (s *Store) ClearAmbient(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var freed int64
	for key, e := range s.resources {
		if e.links == 0 {
			freed += e.res.Size
			delete(s.resources, key)
		}
	}
	return freed, nil
}

func (s *Store) InvalidateAmbient(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Only the expiry is dropped. ETag and Modified survive so the next
	// use can revalidate with a conditional request instead of a refetch.
	for _, e := range s.resources {
		if e.links == 0 {
			e.res.Expires = time.Time{}
		}
	}
	return nil
}

func (s *Store) CountLinkedTiles(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLinkedTilesLocked(), nil
}

func (s *Store) countLinkedTilesLocked() int64 {
	var n int64
	for key, e := range s.resources {
		if e.links > 0 {
			if k, err := resource.ParseKey(key); err == nil && k.IsTile() {
				n++
			}
		}
	}
	return n
}

func (s *Store) CreateRegion(ctx context.Context, def store.RegionDefinition, metadata []byte) (*store.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRegionID++
	reg := &store.Region{
		ID:         s.nextRegionID,
		Definition: def,
		Metadata:   append([]byte(nil), metadata...),
		State:      store.StateInactive,
		Completion: store.CompletionNone,
		CreatedAt:  time.Now(),
	}
	s.regions[reg.ID] = reg
	s.links[reg.ID] = make(map[string]struct{})

	out := *reg
	return &out, nil
}

func (s *Store) GetRegion(ctx context.Context, id int64) (*store.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.regions[id]
	if !ok {
		return nil, tverr.NewRegionNotFoundError(id)
	}
	out := *reg
	return &out, nil
}

func (s *Store) ListRegions(ctx context.Context) ([]*store.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	regions := make([]*store.Region, 0, len(s.regions))
	for _, reg := range s.regions {
		out := *reg
		regions = append(regions, &out)
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
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regions[id]
	if !ok {
		return tverr.NewRegionNotFoundError(id)
	}
	reg.State = state
	reg.Completion = completion
	return nil
}

func (s *Store) UpdateRegionMetadata(ctx context.Context, id int64, metadata []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regions[id]
	if !ok {
		return tverr.NewRegionNotFoundError(id)
	}
	reg.Metadata = append([]byte(nil), metadata...)
	return nil
}

func (s *Store) SetRegionManifestCount(ctx context.Context, id int64, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regions[id]
	if !ok {
		return tverr.NewRegionNotFoundError(id)
	}
	reg.ManifestCount = n
	return nil
}

func (s *Store) AddRegionError(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regions[id]
	if !ok {
		return tverr.NewRegionNotFoundError(id)
	}
	reg.ErroredResourceCount++
	return nil
}

func (s *Store) ResetRegionErrors(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regions[id]
	if !ok {
		return tverr.NewRegionNotFoundError(id)
	}
	reg.ErroredResourceCount = 0
	return nil
}

func (s *Store) DeleteRegion(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.regions[id]; !ok {
		return tverr.NewRegionNotFoundError(id)
	}

	for key := range s.links[id] {
		s.unlinkLocked(id, key)
	}
	delete(s.links, id)
	delete(s.regions, id)
	return nil
}

func (s *Store) RegionProgress(ctx context.Context, id int64) (*store.Progress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.regions[id]; !ok {
		return nil, tverr.NewRegionNotFoundError(id)
	}

	p := &store.Progress{}
	for key := range s.links[id] {
		e, ok := s.resources[key]
		if !ok {
			continue
		}
		p.CompletedResourceCount++
		p.CompletedBytes += e.res.Size
		if k, err := resource.ParseKey(key); err == nil && k.IsTile() {
			p.CompletedTileCount++
		}
	}
	return p, nil
}

func (s *Store) LinkedKeys(ctx context.Context, id int64) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.regions[id]; !ok {
		return nil, tverr.NewRegionNotFoundError(id)
	}

	keys := make(map[string]struct{}, len(s.links[id]))
	for key := range s.links[id] {
		keys[key] = struct{}{}
	}
	return keys, nil
}

func (s *Store) InvalidateRegion(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.regions[id]; !ok {
		return tverr.NewRegionNotFoundError(id)
	}

	for key := range s.links[id] {
		if e, ok := s.resources[key]; ok {
			e.res.Expires = time.Time{}
		}
	}
	return nil
}

func (s *Store) Pack(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return tverr.NewIOError("store closed", nil)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
