package storetest

import (
	"bytes"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
)

// StoreFactory creates a fresh Store instance for each test. The factory
// receives *testing.T so it can use t.TempDir() for backends that need
// filesystem paths and t.Cleanup() for teardown.
type StoreFactory func(t *testing.T) store.Store

// RunConformanceSuite runs the full conformance test suite against the
// provided store factory. Each test gets a fresh store for isolation.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("ResourceOps", func(t *testing.T) {
		runResourceOpsTests(t, factory)
	})

	t.Run("Ambient", func(t *testing.T) {
		runAmbientTests(t, factory)
	})

	t.Run("Regions", func(t *testing.T) {
		runRegionTests(t, factory)
	})
}

// testDefinition returns a small valid region definition for store tests.
func testDefinition() store.RegionDefinition {
	return store.RegionDefinition{
		MinLat:     47.30,
		MinLon:     8.40,
		MaxLat:     47.45,
		MaxLon:     8.65,
		MinZoom:    0,
		MaxZoom:    4,
		StyleURL:   "https://tiles.example.com/styles/basic.json",
		PixelRatio: 1,
	}
}

// makeResource builds a payload-bearing resource for the given key.
func makeResource(key resource.Key, size int) *resource.Resource {
	return resource.New(key, bytes.Repeat([]byte{'x'}, size))
}

// styleRes returns an n-byte style resource with a unique URL.
func styleRes(name string, size int) *resource.Resource {
	return makeResource(resource.StyleKey("https://example.com/styles/"+name+".json"), size)
}

// tileRes returns a tile resource for the given coordinate.
func tileRes(source string, z, x, y uint32, size int) *resource.Resource {
	return makeResource(resource.TileKey(source, maptile.New(x, y, maptile.Zoom(z))), size)
}

// mustPut stores an ambient resource or fails the test.
func mustPut(t *testing.T, s store.Store, res *resource.Resource) {
	t.Helper()
	if err := s.Put(t.Context(), res); err != nil {
		t.Fatalf("Put(%s) failed: %v", res.Key, err)
	}
}

// mustPutLinked stores a region-linked resource or fails the test.
func mustPutLinked(t *testing.T, s store.Store, res *resource.Resource, regionID int64) {
	t.Helper()
	if err := s.PutLinked(t.Context(), res, regionID, 0); err != nil {
		t.Fatalf("PutLinked(%s, region %d) failed: %v", res.Key, regionID, err)
	}
}

// mustCreateRegion creates a region or fails the test.
func mustCreateRegion(t *testing.T, s store.Store) *store.Region {
	t.Helper()
	reg, err := s.CreateRegion(t.Context(), testDefinition(), []byte(`{"name":"test"}`))
	if err != nil {
		t.Fatalf("CreateRegion() failed: %v", err)
	}
	return reg
}

// ambientSize returns the store's ambient total or fails the test.
func ambientSize(t *testing.T, s store.Store) int64 {
	t.Helper()
	size, err := s.TotalAmbientSize(t.Context())
	if err != nil {
		t.Fatalf("TotalAmbientSize() failed: %v", err)
	}
	return size
}

// settle gives backends that persist timestamps a strictly later clock
// reading between sequential operations.
func settle() {
	time.Sleep(2 * time.Millisecond)
}

// farFuture returns an expiry far enough out to count as fresh for the
// whole test run.
func farFuture() time.Time {
	return time.Now().Add(24 * time.Hour).Truncate(time.Millisecond)
}
