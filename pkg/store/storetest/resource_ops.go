package storetest

import (
	"bytes"
	"testing"
	"time"

	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// runResourceOpsTests runs resource CRUD conformance tests.
func runResourceOpsTests(t *testing.T, factory StoreFactory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("GetMeta", func(t *testing.T) { testGetMeta(t, factory) })
	t.Run("TouchAmbientOnly", func(t *testing.T) { testTouchAmbientOnly(t, factory) })
	t.Run("RevalidationMetadata", func(t *testing.T) { testRevalidationMetadata(t, factory) })
}

// testRoundTrip verifies get-after-put returns a byte-identical payload.
func testRoundTrip(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	payload := []byte{0x1a, 0x00, 0xff, 0x42, 0x00}
	res := resource.New(resource.StyleKey("https://example.com/style.json"), payload)
	res.ETag = `"abc123"`

	if err := s.Put(ctx, res); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := s.Get(ctx, res.Key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Errorf("payload = %x, want %x", got.Payload, payload)
	}
	if got.Size != int64(len(payload)) {
		t.Errorf("Size = %d, want %d", got.Size, len(payload))
	}
	if got.ETag != `"abc123"` {
		t.Errorf("ETag = %q, want %q", got.ETag, `"abc123"`)
	}
	if got.Key.String() != res.Key.String() {
		t.Errorf("Key = %s, want %s", got.Key, res.Key)
	}
}

// testOverwrite verifies a second put replaces payload and metadata.
func testOverwrite(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	key := resource.SpriteKey("https://example.com/sprite.png")
	first := resource.New(key, []byte("old"))
	first.ETag = `"v1"`
	mustPut(t, s, first)

	second := resource.New(key, []byte("new payload"))
	second.ETag = `"v2"`
	mustPut(t, s, second)

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got.Payload) != "new payload" {
		t.Errorf("payload = %q, want %q", got.Payload, "new payload")
	}
	if got.ETag != `"v2"` {
		t.Errorf("ETag = %q, want %q", got.ETag, `"v2"`)
	}

	// The store holds one entry, not two.
	size := ambientSize(t, s)
	if size != int64(len("new payload")) {
		t.Errorf("ambient size = %d, want %d", size, len("new payload"))
	}
}

// testGetMissing verifies a NotFound error for absent keys.
func testGetMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)

	_, err := s.Get(t.Context(), resource.StyleKey("https://example.com/absent.json"))
	if err == nil {
		t.Fatal("Get() on missing key should fail")
	}
	if !tverr.IsCode(err, tverr.ErrNotFound) {
		t.Errorf("error code = %v, want NotFound (err: %v)", tverr.CodeOf(err), err)
	}
}

// testGetMeta verifies metadata reads omit the payload and do not touch
// the access time.
func testGetMeta(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	res := styleRes("meta", 2048)
	res.ETag = `"m1"`
	mustPut(t, s, res)

	before, err := s.GetMeta(ctx, res.Key)
	if err != nil {
		t.Fatalf("GetMeta() failed: %v", err)
	}
	if len(before.Payload) != 0 {
		t.Errorf("GetMeta() returned %d payload bytes, want none", len(before.Payload))
	}
	if before.Size != 2048 {
		t.Errorf("Size = %d, want 2048", before.Size)
	}

	settle()
	after, err := s.GetMeta(ctx, res.Key)
	if err != nil {
		t.Fatalf("GetMeta() failed: %v", err)
	}
	if !after.AccessedAt.Equal(before.AccessedAt) {
		t.Errorf("GetMeta() must not touch AccessedAt: %v -> %v", before.AccessedAt, after.AccessedAt)
	}
}

// testTouchAmbientOnly verifies Get advances AccessedAt for ambient entries
// and leaves region-linked entries untouched.
func testTouchAmbientOnly(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	ambient := styleRes("ambient", 64)
	mustPut(t, s, ambient)

	reg := mustCreateRegion(t, s)
	pinned := styleRes("pinned", 64)
	mustPutLinked(t, s, pinned, reg.ID)

	ambientBefore, _ := s.GetMeta(ctx, ambient.Key)
	pinnedBefore, _ := s.GetMeta(ctx, pinned.Key)

	settle()
	if _, err := s.Get(ctx, ambient.Key); err != nil {
		t.Fatalf("Get(ambient) failed: %v", err)
	}
	if _, err := s.Get(ctx, pinned.Key); err != nil {
		t.Fatalf("Get(pinned) failed: %v", err)
	}

	ambientAfter, _ := s.GetMeta(ctx, ambient.Key)
	pinnedAfter, _ := s.GetMeta(ctx, pinned.Key)

	if !ambientAfter.AccessedAt.After(ambientBefore.AccessedAt) {
		t.Errorf("ambient AccessedAt not touched: %v -> %v", ambientBefore.AccessedAt, ambientAfter.AccessedAt)
	}
	if !pinnedAfter.AccessedAt.Equal(pinnedBefore.AccessedAt) {
		t.Errorf("pinned AccessedAt must not change: %v -> %v", pinnedBefore.AccessedAt, pinnedAfter.AccessedAt)
	}
}

// testRevalidationMetadata verifies expiry and modification timestamps
// survive the round trip.
func testRevalidationMetadata(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	modified := time.Now().Add(-24 * time.Hour).Truncate(time.Millisecond)

	res := tileRes("osm", 5, 16, 11, 900)
	res.Expires = expires
	res.Modified = modified
	mustPut(t, s, res)

	got, err := s.Get(ctx, res.Key)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !got.Expires.Equal(expires) {
		t.Errorf("Expires = %v, want %v", got.Expires, expires)
	}
	if !got.Modified.Equal(modified) {
		t.Errorf("Modified = %v, want %v", got.Modified, modified)
	}
	if !got.Fresh(time.Now()) {
		t.Error("resource with future expiry should be fresh")
	}
}
