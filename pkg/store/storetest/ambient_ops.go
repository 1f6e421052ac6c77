package storetest

import (
	"testing"

	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/tverr"
)

const kib = 1024

// runAmbientTests runs ambient size accounting and eviction conformance
// tests.
func runAmbientTests(t *testing.T, factory StoreFactory) {
	t.Run("SizeTracksUnlinked", func(t *testing.T) { testAmbientSizeTracksUnlinked(t, factory) })
	t.Run("EvictOldestFirst", func(t *testing.T) { testEvictOldestFirst(t, factory) })
	t.Run("EvictAccessOrder", func(t *testing.T) { testEvictAccessOrder(t, factory) })
	t.Run("EvictSkipsLinked", func(t *testing.T) { testEvictSkipsLinked(t, factory) })
	t.Run("EvictAllLinkedStaysOverTarget", func(t *testing.T) { testEvictAllLinkedStaysOverTarget(t, factory) })
	t.Run("EvictUnderTargetIsNoop", func(t *testing.T) { testEvictUnderTargetIsNoop(t, factory) })
	t.Run("ClearAmbient", func(t *testing.T) { testClearAmbient(t, factory) })
	t.Run("InvalidateAmbient", func(t *testing.T) { testInvalidateAmbient(t, factory) })
}

// testAmbientSizeTracksUnlinked verifies ambient accounting follows link
// transitions: linking moves bytes out of the ambient total, unlinking the
// last link moves them back in.
func testAmbientSizeTracksUnlinked(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	mustPut(t, s, styleRes("a", 100))
	mustPut(t, s, styleRes("b", 200))
	tracked := styleRes("c", 300)
	mustPut(t, s, tracked)

	if got := ambientSize(t, s); got != 600 {
		t.Fatalf("ambient size = %d, want 600", got)
	}

	reg := mustCreateRegion(t, s)
	if err := s.Link(ctx, reg.ID, tracked.Key); err != nil {
		t.Fatalf("Link() failed: %v", err)
	}
	if got := ambientSize(t, s); got != 300 {
		t.Errorf("ambient size after link = %d, want 300", got)
	}

	if err := s.Unlink(ctx, reg.ID, tracked.Key); err != nil {
		t.Fatalf("Unlink() failed: %v", err)
	}
	if got := ambientSize(t, s); got != 600 {
		t.Errorf("ambient size after unlink = %d, want 600", got)
	}
}

// testEvictOldestFirst fills the store past a budget and verifies eviction
// removes exactly the oldest entries, in insertion order, until the total
// fits.
func testEvictOldestFirst(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	keys := make([]resource.Key, 12)
	for i := range keys {
		res := tileRes("fill", 10, uint32(i), 0, kib)
		keys[i] = res.Key
		mustPut(t, s, res)
		settle()
	}

	freed, err := s.EvictLRU(ctx, 10*kib)
	if err != nil {
		t.Fatalf("EvictLRU() failed: %v", err)
	}
	if freed != 2*kib {
		t.Errorf("freed = %d, want %d", freed, 2*kib)
	}
	if got := ambientSize(t, s); got != 10*kib {
		t.Errorf("ambient size = %d, want %d", got, 10*kib)
	}

	for i, key := range keys {
		_, err := s.Get(ctx, key)
		if i < 2 {
			if !tverr.IsCode(err, tverr.ErrNotFound) {
				t.Errorf("entry %d should be evicted, got err %v", i, err)
			}
		} else if err != nil {
			t.Errorf("entry %d should survive, got err %v", i, err)
		}
	}
}

// testEvictAccessOrder verifies a recently read entry outlives an older
// read even when it was inserted earlier.
func testEvictAccessOrder(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	a := styleRes("a", kib)
	b := styleRes("b", kib)
	c := styleRes("c", kib)
	for _, res := range []*resource.Resource{a, b, c} {
		mustPut(t, s, res)
		settle()
	}

	// Reading a makes b the least recently used entry.
	if _, err := s.Get(ctx, a.Key); err != nil {
		t.Fatalf("Get(a) failed: %v", err)
	}
	settle()

	if _, err := s.EvictLRU(ctx, 2*kib); err != nil {
		t.Fatalf("EvictLRU() failed: %v", err)
	}

	if _, err := s.Get(ctx, b.Key); !tverr.IsCode(err, tverr.ErrNotFound) {
		t.Errorf("b should be evicted, got err %v", err)
	}
	if _, err := s.Get(ctx, a.Key); err != nil {
		t.Errorf("a should survive: %v", err)
	}
	if _, err := s.Get(ctx, c.Key); err != nil {
		t.Errorf("c should survive: %v", err)
	}
}

// testEvictSkipsLinked verifies region-linked entries are never evicted.
func testEvictSkipsLinked(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	pinnedA := tileRes("pin", 3, 0, 0, kib)
	pinnedB := tileRes("pin", 3, 1, 0, kib)
	mustPutLinked(t, s, pinnedA, reg.ID)
	mustPutLinked(t, s, pinnedB, reg.ID)

	looseA := styleRes("loose-a", kib)
	looseB := styleRes("loose-b", kib)
	mustPut(t, s, looseA)
	mustPut(t, s, looseB)

	freed, err := s.EvictLRU(ctx, 0)
	if err != nil {
		t.Fatalf("EvictLRU() failed: %v", err)
	}
	if freed != 2*kib {
		t.Errorf("freed = %d, want %d", freed, 2*kib)
	}

	for _, key := range []resource.Key{pinnedA.Key, pinnedB.Key} {
		if _, err := s.Get(ctx, key); err != nil {
			t.Errorf("linked %s must survive eviction: %v", key, err)
		}
	}
	for _, key := range []resource.Key{looseA.Key, looseB.Key} {
		if _, err := s.Get(ctx, key); !tverr.IsCode(err, tverr.ErrNotFound) {
			t.Errorf("ambient %s should be evicted, got err %v", key, err)
		}
	}
}

// testEvictAllLinkedStaysOverTarget verifies eviction gives up, without
// error, when everything on disk is pinned by a region.
func testEvictAllLinkedStaysOverTarget(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	for i := range 4 {
		mustPutLinked(t, s, tileRes("pin", 4, uint32(i), 0, kib), reg.ID)
	}

	freed, err := s.EvictLRU(ctx, 0)
	if err != nil {
		t.Fatalf("EvictLRU() failed: %v", err)
	}
	if freed != 0 {
		t.Errorf("freed = %d, want 0 (nothing evictable)", freed)
	}

	n, err := s.CountLinkedTiles(ctx)
	if err != nil {
		t.Fatalf("CountLinkedTiles() failed: %v", err)
	}
	if n != 4 {
		t.Errorf("linked tiles = %d, want 4", n)
	}
}

// testEvictUnderTargetIsNoop verifies nothing happens when already within
// budget.
func testEvictUnderTargetIsNoop(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	res := styleRes("small", kib)
	mustPut(t, s, res)

	freed, err := s.EvictLRU(ctx, 10*kib)
	if err != nil {
		t.Fatalf("EvictLRU() failed: %v", err)
	}
	if freed != 0 {
		t.Errorf("freed = %d, want 0", freed)
	}
	if _, err := s.Get(ctx, res.Key); err != nil {
		t.Errorf("entry should survive: %v", err)
	}
}

// testClearAmbient verifies the full ambient wipe leaves linked entries in
// place.
func testClearAmbient(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	reg := mustCreateRegion(t, s)
	pinned := tileRes("pin", 2, 1, 1, kib)
	mustPutLinked(t, s, pinned, reg.ID)
	mustPut(t, s, styleRes("a", kib))
	mustPut(t, s, styleRes("b", 2*kib))

	freed, err := s.ClearAmbient(ctx)
	if err != nil {
		t.Fatalf("ClearAmbient() failed: %v", err)
	}
	if freed != 3*kib {
		t.Errorf("freed = %d, want %d", freed, 3*kib)
	}
	if got := ambientSize(t, s); got != 0 {
		t.Errorf("ambient size = %d, want 0", got)
	}
	if _, err := s.Get(ctx, pinned.Key); err != nil {
		t.Errorf("linked entry must survive clear: %v", err)
	}

	// Idempotent on an already empty cache.
	freed, err = s.ClearAmbient(ctx)
	if err != nil {
		t.Fatalf("second ClearAmbient() failed: %v", err)
	}
	if freed != 0 {
		t.Errorf("second clear freed = %d, want 0", freed)
	}
}

// testInvalidateAmbient verifies invalidation strips freshness metadata
// from ambient entries while keeping payloads, and leaves linked entries
// untouched.
func testInvalidateAmbient(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	stale := styleRes("stale", 128)
	stale.ETag = `"s1"`
	stale.Expires = farFuture()
	mustPut(t, s, stale)

	reg := mustCreateRegion(t, s)
	pinned := tileRes("pin", 1, 0, 0, 128)
	pinned.ETag = `"p1"`
	pinned.Expires = farFuture()
	mustPutLinked(t, s, pinned, reg.ID)

	if err := s.InvalidateAmbient(ctx); err != nil {
		t.Fatalf("InvalidateAmbient() failed: %v", err)
	}

	got, err := s.Get(ctx, stale.Key)
	if err != nil {
		t.Fatalf("Get(stale) failed: %v", err)
	}
	if !got.Expires.IsZero() {
		t.Errorf("ambient Expires = %v, want zero", got.Expires)
	}
	if len(got.Payload) != 128 {
		t.Errorf("ambient payload length = %d, want 128 (payload must survive)", len(got.Payload))
	}

	kept, err := s.Get(ctx, pinned.Key)
	if err != nil {
		t.Fatalf("Get(pinned) failed: %v", err)
	}
	if kept.Expires.IsZero() || kept.ETag != `"p1"` {
		t.Errorf("linked entry metadata must be untouched, got expires=%v etag=%q", kept.Expires, kept.ETag)
	}
}
