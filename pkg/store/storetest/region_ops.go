package storetest

import (
	"testing"

	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// runRegionTests runs region bookkeeping and linkage conformance tests.
func runRegionTests(t *testing.T, factory StoreFactory) {
	t.Run("CreateDefaults", func(t *testing.T) { testRegionCreateDefaults(t, factory) })
	t.Run("ListOrder", func(t *testing.T) { testRegionListOrder(t, factory) })
	t.Run("NotFound", func(t *testing.T) { testRegionNotFound(t, factory) })
	t.Run("UpdateStateAndCompletion", func(t *testing.T) { testRegionUpdateState(t, factory) })
	t.Run("UpdateMetadata", func(t *testing.T) { testRegionUpdateMetadata(t, factory) })
	t.Run("Counters", func(t *testing.T) { testRegionCounters(t, factory) })
	t.Run("DeleteCascade", func(t *testing.T) { testRegionDeleteCascade(t, factory) })
	t.Run("SharedResourceSurvivesDelete", func(t *testing.T) { testSharedResourceSurvivesDelete(t, factory) })
	t.Run("TileQuota", func(t *testing.T) { testTileQuota(t, factory) })
	t.Run("TileQuotaAtomicAbort", func(t *testing.T) { testTileQuotaAtomicAbort(t, factory) })
	t.Run("TileQuotaExemptions", func(t *testing.T) { testTileQuotaExemptions(t, factory) })
	t.Run("UnlinkMakesEvictable", func(t *testing.T) { testUnlinkMakesEvictable(t, factory) })
	t.Run("Progress", func(t *testing.T) { testRegionProgress(t, factory) })
	t.Run("LinkedKeys", func(t *testing.T) { testLinkedKeys(t, factory) })
	t.Run("InvalidateRegion", func(t *testing.T) { testInvalidateRegion(t, factory) })
	t.Run("CountLinkedTilesDistinct", func(t *testing.T) { testCountLinkedTilesDistinct(t, factory) })
}

// testRegionCreateDefaults verifies a new region starts Inactive with no
// completion marker and round-trips its definition and metadata.
func testRegionCreateDefaults(t *testing.T, factory StoreFactory) {
	s := factory(t)

	reg := mustCreateRegion(t, s)
	if reg.ID <= 0 {
		t.Errorf("ID = %d, want > 0", reg.ID)
	}
	if reg.State != store.StateInactive {
		t.Errorf("State = %v, want Inactive", reg.State)
	}
	if reg.Completion != store.CompletionNone {
		t.Errorf("Completion = %v, want None", reg.Completion)
	}
	if reg.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err := s.GetRegion(t.Context(), reg.ID)
	if err != nil {
		t.Fatalf("GetRegion() failed: %v", err)
	}
	want := testDefinition()
	if got.Definition != want {
		t.Errorf("Definition = %+v, want %+v", got.Definition, want)
	}
	if string(got.Metadata) != `{"name":"test"}` {
		t.Errorf("Metadata = %s", got.Metadata)
	}
}

// testRegionListOrder verifies listing is ordered by creation time.
func testRegionListOrder(t *testing.T, factory StoreFactory) {
	s := factory(t)

	var ids []int64
	for range 3 {
		reg := mustCreateRegion(t, s)
		ids = append(ids, reg.ID)
		settle()
	}

	regions, err := s.ListRegions(t.Context())
	if err != nil {
		t.Fatalf("ListRegions() failed: %v", err)
	}
	if len(regions) != 3 {
		t.Fatalf("len(regions) = %d, want 3", len(regions))
	}
	for i, reg := range regions {
		if reg.ID != ids[i] {
			t.Errorf("regions[%d].ID = %d, want %d", i, reg.ID, ids[i])
		}
	}
}

// testRegionNotFound verifies region operations report a RegionNotFound
// error for unknown ids.
func testRegionNotFound(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	const missing = int64(987654)
	if _, err := s.GetRegion(ctx, missing); !tverr.IsCode(err, tverr.ErrRegionNotFound) {
		t.Errorf("GetRegion: code = %v, want RegionNotFound", tverr.CodeOf(err))
	}
	if err := s.DeleteRegion(ctx, missing); !tverr.IsCode(err, tverr.ErrRegionNotFound) {
		t.Errorf("DeleteRegion: code = %v, want RegionNotFound", tverr.CodeOf(err))
	}
	if err := s.UpdateRegionState(ctx, missing, store.StateActive, store.CompletionNone); !tverr.IsCode(err, tverr.ErrRegionNotFound) {
		t.Errorf("UpdateRegionState: code = %v, want RegionNotFound", tverr.CodeOf(err))
	}
	if _, err := s.RegionProgress(ctx, missing); !tverr.IsCode(err, tverr.ErrRegionNotFound) {
		t.Errorf("RegionProgress: code = %v, want RegionNotFound", tverr.CodeOf(err))
	}
	res := styleRes("orphan", 10)
	if err := s.PutLinked(ctx, res, missing, 0); !tverr.IsCode(err, tverr.ErrRegionNotFound) {
		t.Errorf("PutLinked: code = %v, want RegionNotFound", tverr.CodeOf(err))
	}
}

// testRegionUpdateState verifies state and completion are persisted
// together.
func testRegionUpdateState(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	if err := s.UpdateRegionState(ctx, reg.ID, store.StateActive, store.CompletionNone); err != nil {
		t.Fatalf("UpdateRegionState() failed: %v", err)
	}
	got, err := s.GetRegion(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegion() failed: %v", err)
	}
	if got.State != store.StateActive {
		t.Errorf("State = %v, want Active", got.State)
	}

	if err := s.UpdateRegionState(ctx, reg.ID, store.StateInactive, store.CompletionComplete); err != nil {
		t.Fatalf("UpdateRegionState() failed: %v", err)
	}
	got, err = s.GetRegion(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegion() failed: %v", err)
	}
	if got.State != store.StateInactive || got.Completion != store.CompletionComplete {
		t.Errorf("got state=%v completion=%v, want Inactive/Complete", got.State, got.Completion)
	}
}

// testRegionUpdateMetadata verifies the opaque metadata blob is replaced.
func testRegionUpdateMetadata(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	if err := s.UpdateRegionMetadata(ctx, reg.ID, []byte(`{"name":"renamed"}`)); err != nil {
		t.Fatalf("UpdateRegionMetadata() failed: %v", err)
	}
	got, err := s.GetRegion(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegion() failed: %v", err)
	}
	if string(got.Metadata) != `{"name":"renamed"}` {
		t.Errorf("Metadata = %s", got.Metadata)
	}
}

// testRegionCounters verifies the manifest count and errored-resource
// counter round-trip and reset.
func testRegionCounters(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	if err := s.SetRegionManifestCount(ctx, reg.ID, 42); err != nil {
		t.Fatalf("SetRegionManifestCount() failed: %v", err)
	}
	for range 3 {
		if err := s.AddRegionError(ctx, reg.ID); err != nil {
			t.Fatalf("AddRegionError() failed: %v", err)
		}
	}

	got, err := s.GetRegion(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegion() failed: %v", err)
	}
	if got.ManifestCount != 42 {
		t.Errorf("ManifestCount = %d, want 42", got.ManifestCount)
	}
	if got.ErroredResourceCount != 3 {
		t.Errorf("ErroredResourceCount = %d, want 3", got.ErroredResourceCount)
	}

	if err := s.ResetRegionErrors(ctx, reg.ID); err != nil {
		t.Fatalf("ResetRegionErrors() failed: %v", err)
	}
	got, err = s.GetRegion(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetRegion() failed: %v", err)
	}
	if got.ErroredResourceCount != 0 {
		t.Errorf("ErroredResourceCount after reset = %d, want 0", got.ErroredResourceCount)
	}
}

// testRegionDeleteCascade verifies deleting a region removes its links so
// formerly pinned resources fall back to the ambient cache.
func testRegionDeleteCascade(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	res := tileRes("del", 6, 33, 21, 512)
	mustPutLinked(t, s, res, reg.ID)

	if got := ambientSize(t, s); got != 0 {
		t.Fatalf("ambient size = %d, want 0 while linked", got)
	}

	if err := s.DeleteRegion(ctx, reg.ID); err != nil {
		t.Fatalf("DeleteRegion() failed: %v", err)
	}
	if _, err := s.GetRegion(ctx, reg.ID); !tverr.IsCode(err, tverr.ErrRegionNotFound) {
		t.Errorf("GetRegion after delete: code = %v, want RegionNotFound", tverr.CodeOf(err))
	}

	// The payload is not deleted with the region; it just loses its pin.
	if _, err := s.Get(ctx, res.Key); err != nil {
		t.Fatalf("resource should survive region delete: %v", err)
	}
	if got := ambientSize(t, s); got != 512 {
		t.Errorf("ambient size after delete = %d, want 512", got)
	}
}

// testSharedResourceSurvivesDelete verifies reference counting across two
// regions sharing one resource.
func testSharedResourceSurvivesDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	r1 := mustCreateRegion(t, s)
	r2 := mustCreateRegion(t, s)

	shared := tileRes("shared", 7, 10, 10, 256)
	mustPutLinked(t, s, shared, r1.ID)
	mustPutLinked(t, s, shared, r2.ID)

	if err := s.DeleteRegion(ctx, r1.ID); err != nil {
		t.Fatalf("DeleteRegion(r1) failed: %v", err)
	}

	// Still pinned by r2: not ambient, not evictable.
	if got := ambientSize(t, s); got != 0 {
		t.Errorf("ambient size = %d, want 0 while r2 holds a link", got)
	}
	if _, err := s.EvictLRU(ctx, 0); err != nil {
		t.Fatalf("EvictLRU() failed: %v", err)
	}
	if _, err := s.Get(ctx, shared.Key); err != nil {
		t.Fatalf("shared resource must survive r1 delete: %v", err)
	}

	if err := s.DeleteRegion(ctx, r2.ID); err != nil {
		t.Fatalf("DeleteRegion(r2) failed: %v", err)
	}
	if got := ambientSize(t, s); got != 256 {
		t.Errorf("ambient size after final delete = %d, want 256", got)
	}
}

// testTileQuota verifies the global linked-tile limit stops the link that
// would exceed it.
func testTileQuota(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	const limit = 3

	for i := range limit {
		res := tileRes("quota", 8, uint32(i), 0, 100)
		if err := s.PutLinked(ctx, res, reg.ID, limit); err != nil {
			t.Fatalf("PutLinked(tile %d) failed: %v", i, err)
		}
	}

	over := tileRes("quota", 8, uint32(limit), 0, 100)
	err := s.PutLinked(ctx, over, reg.ID, limit)
	if !tverr.IsCode(err, tverr.ErrQuotaExceeded) {
		t.Fatalf("PutLinked over limit: code = %v, want QuotaExceeded (err: %v)", tverr.CodeOf(err), err)
	}

	n, err := s.CountLinkedTiles(ctx)
	if err != nil {
		t.Fatalf("CountLinkedTiles() failed: %v", err)
	}
	if n != limit {
		t.Errorf("linked tiles = %d, want %d", n, limit)
	}
}

// testTileQuotaAtomicAbort verifies a quota failure persists nothing: no
// payload, no link.
func testTileQuotaAtomicAbort(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	mustPutLinked(t, s, tileRes("atomic", 9, 0, 0, 100), reg.ID)

	over := tileRes("atomic", 9, 1, 0, 100)
	if err := s.PutLinked(ctx, over, reg.ID, 1); !tverr.IsCode(err, tverr.ErrQuotaExceeded) {
		t.Fatalf("expected QuotaExceeded, got %v", err)
	}

	if _, err := s.Get(ctx, over.Key); !tverr.IsCode(err, tverr.ErrNotFound) {
		t.Errorf("rejected tile must not be persisted, got err %v", err)
	}
	keys, err := s.LinkedKeys(ctx, reg.ID)
	if err != nil {
		t.Fatalf("LinkedKeys() failed: %v", err)
	}
	if _, linked := keys[over.Key.String()]; linked {
		t.Error("rejected tile must not be linked")
	}
	if len(keys) != 1 {
		t.Errorf("len(keys) = %d, want 1", len(keys))
	}
}

// testTileQuotaExemptions verifies the limit binds only tiles gaining
// their first link: non-tile resources and already-counted tiles pass.
func testTileQuotaExemptions(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	r1 := mustCreateRegion(t, s)
	r2 := mustCreateRegion(t, s)
	const limit = 1

	counted := tileRes("exempt", 10, 0, 0, 100)
	if err := s.PutLinked(ctx, counted, r1.ID, limit); err != nil {
		t.Fatalf("PutLinked(first tile) failed: %v", err)
	}

	// Styles and sprites are not tiles; the limit does not apply.
	if err := s.PutLinked(ctx, styleRes("exempt", 100), r1.ID, limit); err != nil {
		t.Errorf("PutLinked(style) at limit failed: %v", err)
	}

	// Linking the same tile into a second region adds no distinct tile.
	if err := s.PutLinked(ctx, counted, r2.ID, limit); err != nil {
		t.Errorf("PutLinked(same tile, second region) at limit failed: %v", err)
	}

	// Re-writing the already linked tile in its own region is an update.
	if err := s.PutLinked(ctx, counted, r1.ID, limit); err != nil {
		t.Errorf("PutLinked(same tile, same region) at limit failed: %v", err)
	}

	n, err := s.CountLinkedTiles(ctx)
	if err != nil {
		t.Fatalf("CountLinkedTiles() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("linked tiles = %d, want 1", n)
	}
}

// testUnlinkMakesEvictable verifies an entry that loses its last link is
// immediately fair game for eviction.
func testUnlinkMakesEvictable(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	res := tileRes("free", 11, 5, 5, 400)
	mustPutLinked(t, s, res, reg.ID)

	if err := s.Unlink(ctx, reg.ID, res.Key); err != nil {
		t.Fatalf("Unlink() failed: %v", err)
	}
	if got := ambientSize(t, s); got != 400 {
		t.Errorf("ambient size = %d, want 400", got)
	}

	freed, err := s.EvictLRU(ctx, 0)
	if err != nil {
		t.Fatalf("EvictLRU() failed: %v", err)
	}
	if freed != 400 {
		t.Errorf("freed = %d, want 400", freed)
	}
	if _, err := s.Get(ctx, res.Key); !tverr.IsCode(err, tverr.ErrNotFound) {
		t.Errorf("unlinked entry should be evicted, got err %v", err)
	}
}

// testRegionProgress verifies progress is recomputed from persisted links.
func testRegionProgress(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	mustPutLinked(t, s, tileRes("prog", 12, 0, 0, 1000), reg.ID)
	mustPutLinked(t, s, tileRes("prog", 12, 1, 0, 2000), reg.ID)
	mustPutLinked(t, s, styleRes("prog", 500), reg.ID)

	p, err := s.RegionProgress(ctx, reg.ID)
	if err != nil {
		t.Fatalf("RegionProgress() failed: %v", err)
	}
	if p.CompletedResourceCount != 3 {
		t.Errorf("CompletedResourceCount = %d, want 3", p.CompletedResourceCount)
	}
	if p.CompletedTileCount != 2 {
		t.Errorf("CompletedTileCount = %d, want 2", p.CompletedTileCount)
	}
	if p.CompletedBytes != 3500 {
		t.Errorf("CompletedBytes = %d, want 3500", p.CompletedBytes)
	}

	// A fresh region reports zero progress.
	empty := mustCreateRegion(t, s)
	p, err = s.RegionProgress(ctx, empty.ID)
	if err != nil {
		t.Fatalf("RegionProgress(empty) failed: %v", err)
	}
	if p.CompletedResourceCount != 0 || p.CompletedTileCount != 0 || p.CompletedBytes != 0 {
		t.Errorf("empty region progress = %+v, want zeros", p)
	}
}

// testLinkedKeys verifies the resume set contains exactly the linked keys.
func testLinkedKeys(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	a := tileRes("resume", 13, 0, 0, 10)
	b := styleRes("resume", 10)
	mustPutLinked(t, s, a, reg.ID)
	mustPutLinked(t, s, b, reg.ID)
	mustPut(t, s, styleRes("unrelated", 10))

	keys, err := s.LinkedKeys(ctx, reg.ID)
	if err != nil {
		t.Fatalf("LinkedKeys() failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}
	for _, want := range []resource.Key{a.Key, b.Key} {
		if _, ok := keys[want.String()]; !ok {
			t.Errorf("missing key %s", want)
		}
	}
}

// testInvalidateRegion verifies region invalidation drops expiry on linked
// resources only, leaving payloads and ambient entries alone.
func testInvalidateRegion(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	pinned := tileRes("inv", 14, 0, 0, 64)
	pinned.Expires = farFuture()
	pinned.ETag = `"r1"`
	mustPutLinked(t, s, pinned, reg.ID)

	loose := styleRes("inv", 64)
	loose.Expires = farFuture()
	mustPut(t, s, loose)

	if err := s.InvalidateRegion(ctx, reg.ID); err != nil {
		t.Fatalf("InvalidateRegion() failed: %v", err)
	}

	got, err := s.Get(ctx, pinned.Key)
	if err != nil {
		t.Fatalf("Get(pinned) failed: %v", err)
	}
	if !got.Expires.IsZero() {
		t.Errorf("linked Expires = %v, want zero", got.Expires)
	}
	if got.ETag != `"r1"` {
		t.Errorf("linked ETag = %q, want kept for revalidation", got.ETag)
	}
	if len(got.Payload) != 64 {
		t.Errorf("linked payload length = %d, want 64", len(got.Payload))
	}

	kept, err := s.Get(ctx, loose.Key)
	if err != nil {
		t.Fatalf("Get(loose) failed: %v", err)
	}
	if kept.Expires.IsZero() {
		t.Error("ambient entry must not be invalidated by a region invalidation")
	}
}

// testCountLinkedTilesDistinct verifies a tile linked by several regions
// counts once.
func testCountLinkedTilesDistinct(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	r1 := mustCreateRegion(t, s)
	r2 := mustCreateRegion(t, s)

	shared := tileRes("count", 15, 0, 0, 10)
	mustPutLinked(t, s, shared, r1.ID)
	mustPutLinked(t, s, shared, r2.ID)
	mustPutLinked(t, s, tileRes("count", 15, 1, 0, 10), r1.ID)
	mustPutLinked(t, s, styleRes("count", 10), r1.ID)

	n, err := s.CountLinkedTiles(ctx)
	if err != nil {
		t.Fatalf("CountLinkedTiles() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("linked tiles = %d, want 2", n)
	}
}
