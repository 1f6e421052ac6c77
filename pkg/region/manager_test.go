package region

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/tilevault/tilevault/pkg/downloader"
	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/store/memory"
	"github.com/tilevault/tilevault/pkg/tverr"
)

const testStyleURL = "https://maps.example.com/style.json"

const testTileTemplate = "https://tiles.example.com/{z}/{x}/{y}.pbf"

// fakeOrigin serves canned documents and synthesizes payloads for every
// other locator. When gate is set, tile fetches block until it closes or
// the request context ends.
type fakeOrigin struct {
	mu    sync.Mutex
	docs  map[string][]byte
	fail  map[string]error
	calls map[string]int
	gate  chan struct{}
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{
		docs:  make(map[string][]byte),
		fail:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (o *fakeOrigin) Fetch(ctx context.Context, u string, cond downloader.Conditional) (*downloader.Result, error) {
	o.mu.Lock()
	o.calls[u]++
	gate := o.gate
	failErr, failed := o.fail[u]
	payload, found := o.docs[u]
	o.mu.Unlock()

	if failed {
		return nil, failErr
	}
	if gate != nil && strings.HasSuffix(u, ".pbf") {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !found {
		payload = []byte("payload for " + u)
	}
	return &downloader.Result{Payload: payload}, nil
}

func (o *fakeOrigin) callCount(u string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[u]
}

func (o *fakeOrigin) setFail(u string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.fail, u)
		return
	}
	o.fail[u] = err
}

// minimalStyle has one inline tileset and nothing else, so a region at
// world bounds with zoom 0..1 enumerates 6 entries: the style + 5 tiles.
func minimalStyle() []byte {
	return []byte(`{
		"version": 8,
		"sources": {
			"base": {"type": "vector", "tiles": ["` + testTileTemplate + `"], "maxzoom": 14}
		},
		"layers": []
	}`)
}

func newTestManager(t *testing.T, origin *fakeOrigin, tileLimit int64) (*Manager, *memory.Store) {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { st.Close() })

	cfg := downloader.DefaultConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 2 * time.Millisecond
	cfg.TileCountLimit = tileLimit
	d := downloader.New(st, nil, map[string]downloader.Fetcher{"https": origin}, cfg, nil)
	d.Start()
	t.Cleanup(func() { d.Close() })

	m := NewManager(st, d, nil, nil)
	t.Cleanup(func() { m.Close() })
	return m, st
}

func collectStatuses(m *Manager, id int64) <-chan Status {
	ch := make(chan Status, 256)
	m.SetObserverFunc(id, func(st Status) { ch <- st })
	return ch
}

// drainUntilEnd reads statuses until the pass ends, in the given phase.
func drainUntilEnd(t *testing.T, ch <-chan Status, want Phase) []Status {
	t.Helper()
	deadline := time.After(10 * time.Second)
	var all []Status
	for {
		select {
		case st := <-ch:
			all = append(all, st)
			if st.Phase.Terminal() || st.Phase == PhaseInactive {
				if st.Phase != want {
					t.Fatalf("download ended in phase %q, want %q", st.Phase, want)
				}
				return all
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %q", want)
		}
	}
}

func awaitPhase(t *testing.T, ch <-chan Status, want Phase) Status {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case st := <-ch:
			if st.Phase == want {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for phase %q", want)
		}
	}
}

func TestCreate_InvalidDefinitions(t *testing.T) {
	origin := newFakeOrigin()
	m, _ := newTestManager(t, origin, 0)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*store.RegionDefinition)
	}{
		{"latitude out of range", func(d *store.RegionDefinition) { d.MinLat = -95 }},
		{"inverted bounds", func(d *store.RegionDefinition) { d.MinLon, d.MaxLon = d.MaxLon, d.MinLon }},
		{"inverted zoom range", func(d *store.RegionDefinition) { d.MinZoom, d.MaxZoom = 5, 2 }},
		{"zoom too deep", func(d *store.RegionDefinition) { d.MaxZoom = MaxSupportedZoom + 1 }},
		{"missing style url", func(d *store.RegionDefinition) { d.StyleURL = "" }},
		{"relative style url", func(d *store.RegionDefinition) { d.StyleURL = "styles/basic.json" }},
		{"unsupported scheme", func(d *store.RegionDefinition) { d.StyleURL = "ftp://maps.example.com/style.json" }},
		{"pixel ratio below one", func(d *store.RegionDefinition) { d.PixelRatio = 0.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := worldDefinition(0, 1)
			tc.mutate(&def)
			_, err := m.Create(ctx, def, nil)
			if !tverr.IsCode(err, tverr.ErrInvalidRegionDefinition) {
				t.Errorf("Create() error = %v, want ErrInvalidRegionDefinition", err)
			}
		})
	}

	if n := origin.callCount(testStyleURL); n != 0 {
		t.Errorf("style fetched %d times during failed validation, want 0", n)
	}
	regions, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(regions) != 0 {
		t.Errorf("List() returned %d regions after failed creates, want 0", len(regions))
	}
}

func TestCreate_BuildsManifest(t *testing.T) {
	origin := newFakeOrigin()
	origin.docs[testStyleURL] = []byte(`{
		"version": 8,
		"sprite": "https://maps.example.com/sprite",
		"glyphs": "https://fonts.example.com/{fontstack}/{range}.pbf",
		"sources": {
			"streets": {"type": "vector", "url": "https://tiles.example.com/streets.json"}
		},
		"layers": [{"id": "labels", "layout": {"text-font": ["Roboto Regular"]}}]
	}`)
	origin.docs["https://tiles.example.com/streets.json"] = []byte(`{
		"tiles": ["` + testTileTemplate + `"],
		"minzoom": 0,
		"maxzoom": 14
	}`)
	m, st := newTestManager(t, origin, 0)
	ctx := context.Background()

	metadata := []byte(`{"name":"world"}`)
	reg, err := m.Create(ctx, worldDefinition(0, 1), metadata)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// 1 style + 1 source doc + 2 sprite assets + 146 glyph ranges + 5 tiles.
	if reg.ManifestCount != 155 {
		t.Errorf("ManifestCount = %d, want 155", reg.ManifestCount)
	}
	if reg.State != store.StateInactive || reg.Completion != store.CompletionNone {
		t.Errorf("new region state = %v/%v, want inactive/none", reg.State, reg.Completion)
	}
	if string(reg.Metadata) != string(metadata) {
		t.Errorf("Metadata = %q, want %q", reg.Metadata, metadata)
	}

	// The style and TileJSON fetched during enumeration count as done.
	progress, err := st.RegionProgress(ctx, reg.ID)
	if err != nil {
		t.Fatalf("RegionProgress() error = %v", err)
	}
	if progress.CompletedResourceCount != 2 {
		t.Errorf("CompletedResourceCount = %d, want 2", progress.CompletedResourceCount)
	}

	// A second region opting into ideographs reuses the stored documents
	// and carries the 110 extra CJK glyph ranges.
	def := worldDefinition(0, 1)
	def.IncludeIdeographs = true
	second, err := m.Create(ctx, def, nil)
	if err != nil {
		t.Fatalf("Create(ideographs) error = %v", err)
	}
	if second.ManifestCount != 265 {
		t.Errorf("ideograph ManifestCount = %d, want 265", second.ManifestCount)
	}
	if n := origin.callCount(testStyleURL); n != 1 {
		t.Errorf("style fetched %d times across two creates, want 1", n)
	}
}

func TestCreate_StyleFetchFailure(t *testing.T) {
	origin := newFakeOrigin()
	origin.setFail(testStyleURL, errors.New("origin returned 500"))
	m, _ := newTestManager(t, origin, 0)
	ctx := context.Background()

	_, err := m.Create(ctx, worldDefinition(0, 1), nil)
	if !tverr.IsCode(err, tverr.ErrNetwork) {
		t.Fatalf("Create() error = %v, want ErrNetwork", err)
	}
	regions, err := m.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(regions) != 0 {
		t.Errorf("List() returned %d regions after failed create, want 0", len(regions))
	}
}

func TestActivate_RunsToComplete(t *testing.T) {
	origin := newFakeOrigin()
	origin.docs[testStyleURL] = minimalStyle()
	m, st := newTestManager(t, origin, 0)
	ctx := context.Background()

	reg, err := m.Create(ctx, worldDefinition(0, 1), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ch := collectStatuses(m, reg.ID)

	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) error = %v", err)
	}
	statuses := drainUntilEnd(t, ch, PhaseComplete)

	final := statuses[len(statuses)-1]
	if final.ManifestCount != 6 || final.CompletedResourceCount != 6 {
		t.Errorf("final progress = %d/%d, want 6/6", final.CompletedResourceCount, final.ManifestCount)
	}
	if final.CompletedTileCount != 5 {
		t.Errorf("CompletedTileCount = %d, want 5", final.CompletedTileCount)
	}
	if !final.ManifestComplete {
		t.Error("final status not marked manifest-complete")
	}
	if final.ErroredResourceCount != 0 {
		t.Errorf("ErroredResourceCount = %d, want 0", final.ErroredResourceCount)
	}
	for i := 1; i < len(statuses); i++ {
		if statuses[i].CompletedResourceCount < statuses[i-1].CompletedResourceCount {
			t.Fatalf("completed count went backwards: %d after %d",
				statuses[i].CompletedResourceCount, statuses[i-1].CompletedResourceCount)
		}
	}

	current, err := m.Get(ctx, reg.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if current.State != store.StateActive || current.Completion != store.CompletionComplete {
		t.Errorf("persisted state = %v/%v, want active/complete", current.State, current.Completion)
	}

	tiles, err := st.CountLinkedTiles(ctx)
	if err != nil {
		t.Fatalf("CountLinkedTiles() error = %v", err)
	}
	if tiles != 5 {
		t.Errorf("CountLinkedTiles() = %d, want 5", tiles)
	}
	if _, err := st.Get(ctx, resource.TileKey(testTileTemplate, maptile.New(0, 0, 0))); err != nil {
		t.Errorf("Get(z0 tile) error = %v, want stored", err)
	}
}

func TestActivate_ResumeSkipsCompleted(t *testing.T) {
	origin := newFakeOrigin()
	origin.docs[testStyleURL] = minimalStyle()
	failURL := "https://tiles.example.com/1/1/1.pbf"
	origin.setFail(failURL, errors.New("origin returned 404"))
	m, _ := newTestManager(t, origin, 0)
	ctx := context.Background()

	reg, err := m.Create(ctx, worldDefinition(0, 1), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ch := collectStatuses(m, reg.ID)
	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) error = %v", err)
	}
	statuses := drainUntilEnd(t, ch, PhaseCompleteWithErrors)
	final := statuses[len(statuses)-1]
	if final.CompletedResourceCount != 5 || final.ErroredResourceCount != 1 {
		t.Errorf("first pass = %d completed / %d errored, want 5/1",
			final.CompletedResourceCount, final.ErroredResourceCount)
	}
	if !final.ManifestComplete {
		t.Error("errored pass not marked manifest-complete")
	}

	if err := m.SetState(ctx, reg.ID, store.StateInactive); err != nil {
		t.Fatalf("SetState(inactive) error = %v", err)
	}
	current, err := m.Get(ctx, reg.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if current.State != store.StateInactive || current.Completion != store.CompletionCompleteWithErrors {
		t.Errorf("paused state = %v/%v, want inactive/complete_with_errors",
			current.State, current.Completion)
	}

	// Second pass with the origin healthy: only the errored entry is
	// pending, everything already linked is never re-fetched.
	origin.setFail(failURL, nil)
	ch = collectStatuses(m, reg.ID)
	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) again error = %v", err)
	}
	statuses = drainUntilEnd(t, ch, PhaseComplete)
	final = statuses[len(statuses)-1]
	if final.CompletedResourceCount != 6 || final.ErroredResourceCount != 0 {
		t.Errorf("second pass = %d completed / %d errored, want 6/0",
			final.CompletedResourceCount, final.ErroredResourceCount)
	}
	for _, st := range statuses {
		if st.CompletedResourceCount < 5 {
			t.Fatalf("resume reported %d completed, below the 5 already done",
				st.CompletedResourceCount)
		}
	}

	if n := origin.callCount(failURL); n != 2 {
		t.Errorf("errored tile fetched %d times, want 2", n)
	}
	if n := origin.callCount("https://tiles.example.com/0/0/0.pbf"); n != 1 {
		t.Errorf("completed tile fetched %d times, want 1", n)
	}
}

func TestActivate_QuotaExceededHalts(t *testing.T) {
	origin := newFakeOrigin()
	origin.docs[testStyleURL] = minimalStyle()
	m, st := newTestManager(t, origin, 3)
	ctx := context.Background()

	reg, err := m.Create(ctx, worldDefinition(0, 1), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ch := collectStatuses(m, reg.ID)
	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) error = %v", err)
	}

	statuses := drainUntilEnd(t, ch, PhaseQuotaExceeded)
	final := statuses[len(statuses)-1]
	if final.CompletedTileCount != 3 {
		t.Errorf("CompletedTileCount = %d, want the limit of 3", final.CompletedTileCount)
	}

	// A quota failure can only fire once the limit is reached, so exactly
	// the limit's worth of tiles end up linked.
	tiles, err := st.CountLinkedTiles(ctx)
	if err != nil {
		t.Fatalf("CountLinkedTiles() error = %v", err)
	}
	if tiles != 3 {
		t.Errorf("CountLinkedTiles() = %d, want 3", tiles)
	}
	current, err := m.Get(ctx, reg.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if current.Completion != store.CompletionQuotaExceeded {
		t.Errorf("Completion = %v, want quota_exceeded", current.Completion)
	}
}

func TestDeactivate_PausesAndResumeFinishes(t *testing.T) {
	origin := newFakeOrigin()
	origin.docs[testStyleURL] = minimalStyle()
	origin.gate = make(chan struct{})
	m, _ := newTestManager(t, origin, 0)
	ctx := context.Background()

	reg, err := m.Create(ctx, worldDefinition(0, 2), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if reg.ManifestCount != 22 {
		t.Fatalf("ManifestCount = %d, want 22 (style + 21 tiles)", reg.ManifestCount)
	}

	ch := collectStatuses(m, reg.ID)
	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) error = %v", err)
	}
	awaitPhase(t, ch, PhaseDownloading)

	// Every tile fetch is parked on the gate; pausing must cancel them
	// and return without waiting for the gate.
	if err := m.SetState(ctx, reg.ID, store.StateInactive); err != nil {
		t.Fatalf("SetState(inactive) error = %v", err)
	}
	statuses := drainUntilEnd(t, ch, PhaseInactive)
	final := statuses[len(statuses)-1]
	if final.CompletedTileCount != 0 {
		t.Errorf("paused CompletedTileCount = %d, want 0", final.CompletedTileCount)
	}

	current, err := m.Get(ctx, reg.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if current.State != store.StateInactive {
		t.Errorf("paused State = %v, want inactive", current.State)
	}

	close(origin.gate)
	ch = collectStatuses(m, reg.ID)
	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) again error = %v", err)
	}
	statuses = drainUntilEnd(t, ch, PhaseComplete)
	final = statuses[len(statuses)-1]
	if final.CompletedResourceCount != 22 || final.CompletedTileCount != 21 {
		t.Errorf("resumed progress = %d resources / %d tiles, want 22/21",
			final.CompletedResourceCount, final.CompletedTileCount)
	}
	if n := origin.callCount(testStyleURL); n != 1 {
		t.Errorf("style fetched %d times, want 1 (resume reads the stored copy)", n)
	}
}

func TestDelete_RequiresInactive(t *testing.T) {
	origin := newFakeOrigin()
	origin.docs[testStyleURL] = minimalStyle()
	origin.gate = make(chan struct{})
	m, st := newTestManager(t, origin, 0)
	ctx := context.Background()

	reg, err := m.Create(ctx, worldDefinition(0, 1), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ch := collectStatuses(m, reg.ID)
	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) error = %v", err)
	}
	awaitPhase(t, ch, PhaseDownloading)

	if err := m.Delete(ctx, reg.ID); !tverr.IsCode(err, tverr.ErrRegionState) {
		t.Fatalf("Delete(active) error = %v, want ErrRegionState", err)
	}

	if err := m.SetState(ctx, reg.ID, store.StateInactive); err != nil {
		t.Fatalf("SetState(inactive) error = %v", err)
	}

	before, err := st.TotalAmbientSize(ctx)
	if err != nil {
		t.Fatalf("TotalAmbientSize() error = %v", err)
	}
	if before != 0 {
		t.Fatalf("TotalAmbientSize() = %d before delete, want 0 (style is linked)", before)
	}

	if err := m.Delete(ctx, reg.ID); err != nil {
		t.Fatalf("Delete(inactive) error = %v", err)
	}
	if _, err := m.Get(ctx, reg.ID); !tverr.IsCode(err, tverr.ErrRegionNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrRegionNotFound", err)
	}

	// The style document survives the delete as an ambient entry.
	after, err := st.TotalAmbientSize(ctx)
	if err != nil {
		t.Fatalf("TotalAmbientSize() error = %v", err)
	}
	if after == 0 {
		t.Error("TotalAmbientSize() = 0 after delete, want the released style counted")
	}
	if _, err := st.Get(ctx, resource.StyleKey(testStyleURL)); err != nil {
		t.Errorf("Get(style) error = %v, want retained", err)
	}
}

func TestDemoteActive(t *testing.T) {
	origin := newFakeOrigin()
	origin.docs[testStyleURL] = minimalStyle()
	m, st := newTestManager(t, origin, 0)
	ctx := context.Background()

	reg, err := m.Create(ctx, worldDefinition(0, 1), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	// Simulate a crash mid-download: the row says Active but no driver
	// is running.
	if err := st.UpdateRegionState(ctx, reg.ID, store.StateActive, store.CompletionNone); err != nil {
		t.Fatalf("UpdateRegionState() error = %v", err)
	}

	if err := m.DemoteActive(ctx); err != nil {
		t.Fatalf("DemoteActive() error = %v", err)
	}
	current, err := m.Get(ctx, reg.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if current.State != store.StateInactive {
		t.Errorf("State = %v after demote, want inactive", current.State)
	}
}

func TestSetState_Errors(t *testing.T) {
	origin := newFakeOrigin()
	m, _ := newTestManager(t, origin, 0)
	ctx := context.Background()

	if err := m.SetState(ctx, 999, store.StateActive); !tverr.IsCode(err, tverr.ErrRegionNotFound) {
		t.Errorf("SetState(unknown region) error = %v, want ErrRegionNotFound", err)
	}
	if err := m.SetState(ctx, 1, store.State(7)); !tverr.IsCode(err, tverr.ErrInvalidArgument) {
		t.Errorf("SetState(bogus state) error = %v, want ErrInvalidArgument", err)
	}
}

func TestActivate_AlreadyRunning(t *testing.T) {
	origin := newFakeOrigin()
	origin.docs[testStyleURL] = minimalStyle()
	origin.gate = make(chan struct{})
	m, _ := newTestManager(t, origin, 0)
	ctx := context.Background()

	reg, err := m.Create(ctx, worldDefinition(0, 1), nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ch := collectStatuses(m, reg.ID)
	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) error = %v", err)
	}
	awaitPhase(t, ch, PhaseDownloading)

	// Re-activating a running region is a no-op, not a second driver.
	if err := m.SetState(ctx, reg.ID, store.StateActive); err != nil {
		t.Fatalf("SetState(active) twice error = %v", err)
	}
	m.mu.Lock()
	running := len(m.active)
	m.mu.Unlock()
	if running != 1 {
		t.Errorf("active downloads = %d, want 1", running)
	}

	close(origin.gate)
	drainUntilEnd(t, ch, PhaseComplete)
}
