package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/store/memory"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// fetcherFunc adapts a closure to the Fetcher interface.
type fetcherFunc func(ctx context.Context, url string, cond Conditional) (*Result, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string, cond Conditional) (*Result, error) {
	return f(ctx, url, cond)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	return cfg
}

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestDownloader(t *testing.T, st store.Store, f Fetcher, cfg Config) *Downloader {
	t.Helper()
	d := New(st, nil, map[string]Fetcher{"https": f}, cfg, nil)
	d.Start()
	t.Cleanup(func() { d.Close() })
	return d
}

func testDefinition() store.RegionDefinition {
	return store.RegionDefinition{
		MinLat:     47.3,
		MinLon:     8.4,
		MaxLat:     47.45,
		MaxLon:     8.6,
		MinZoom:    0,
		MaxZoom:    2,
		StyleURL:   "https://maps.example.com/style.json",
		PixelRatio: 1,
	}
}

func TestFetch_CommitsAmbient(t *testing.T) {
	st := newTestStore(t)
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		return &Result{Payload: []byte("glyph data"), ETag: `"g1"`, Expires: expires}, nil
	})
	d := newTestDownloader(t, st, f, testConfig())

	key := resource.GlyphKey("https://fonts.example.com/Roboto/0-255.pbf")
	h := d.Fetch(context.Background(), Request{Key: key, URL: "https://fonts.example.com/Roboto/0-255.pbf"})
	resp, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if resp.NotModified {
		t.Error("NotModified = true, want false")
	}
	if string(resp.Resource.Payload) != "glyph data" {
		t.Errorf("payload = %q, want %q", resp.Resource.Payload, "glyph data")
	}

	got, err := st.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() after commit: %v", err)
	}
	if got.ETag != `"g1"` {
		t.Errorf("stored ETag = %q, want %q", got.ETag, `"g1"`)
	}
	if !got.Expires.Equal(expires) {
		t.Errorf("stored Expires = %v, want %v", got.Expires, expires)
	}
}

func TestFetch_SharesInFlight(t *testing.T) {
	st := newTestStore(t)
	var attempts atomic.Int32
	release := make(chan struct{})
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		attempts.Add(1)
		<-release
		return &Result{Payload: []byte("tile")}, nil
	})
	d := newTestDownloader(t, st, f, testConfig())

	key := resource.TileKey("https://tiles.example.com/{z}/{x}/{y}.pbf", maptile.New(1, 2, 3))
	req := Request{Key: key, URL: "https://tiles.example.com/3/1/2.pbf"}

	const waiters = 8
	handles := make([]*Handle, waiters)
	for i := range handles {
		handles[i] = d.Fetch(context.Background(), req)
	}
	for i, h := range handles[1:] {
		if h != handles[0] {
			t.Fatalf("Fetch(%d) returned a distinct handle for an in-flight key", i+1)
		}
	}
	close(release)

	for i, h := range handles {
		resp, err := h.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait(%d) error = %v", i, err)
		}
		if string(resp.Resource.Payload) != "tile" {
			t.Errorf("Wait(%d) payload = %q, want %q", i, resp.Resource.Payload, "tile")
		}
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("origin attempts = %d, want 1", n)
	}
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	st := newTestStore(t)
	var attempts atomic.Int32
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		if attempts.Add(1) < 3 {
			return nil, &TemporaryError{Err: errors.New("origin overloaded")}
		}
		return &Result{Payload: []byte("ok")}, nil
	})
	cfg := testConfig()
	cfg.MaxRetries = 3
	d := newTestDownloader(t, st, f, cfg)

	h := d.Fetch(context.Background(), Request{
		Key: resource.StyleKey("https://maps.example.com/style.json"),
		URL: "https://maps.example.com/style.json",
	})
	resp, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if string(resp.Resource.Payload) != "ok" {
		t.Errorf("payload = %q, want %q", resp.Resource.Payload, "ok")
	}
	if n := attempts.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestFetch_TerminalFailureDoesNotRetry(t *testing.T) {
	st := newTestStore(t)
	var attempts atomic.Int32
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		attempts.Add(1)
		return nil, errors.New("origin returned 404 Not Found")
	})
	d := newTestDownloader(t, st, f, testConfig())

	h := d.Fetch(context.Background(), Request{
		Key: resource.StyleKey("https://maps.example.com/missing.json"),
		URL: "https://maps.example.com/missing.json",
	})
	_, err := h.Wait(context.Background())
	if !tverr.IsCode(err, tverr.ErrNetwork) {
		t.Fatalf("Wait() error = %v, want code %v", err, tverr.ErrNetwork)
	}
	if n := attempts.Load(); n != 1 {
		t.Errorf("attempts = %d, want 1", n)
	}
}

func TestFetch_RetryBudgetExhausted(t *testing.T) {
	st := newTestStore(t)
	var attempts atomic.Int32
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		attempts.Add(1)
		return nil, &TemporaryError{Err: errors.New("bad gateway")}
	})
	cfg := testConfig()
	cfg.MaxRetries = 2
	d := newTestDownloader(t, st, f, cfg)

	key := resource.StyleKey("https://maps.example.com/style.json")
	h := d.Fetch(context.Background(), Request{Key: key, URL: "https://maps.example.com/style.json"})
	_, err := h.Wait(context.Background())
	if !tverr.IsCode(err, tverr.ErrNetwork) {
		t.Fatalf("Wait() error = %v, want code %v", err, tverr.ErrNetwork)
	}
	if n := attempts.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}

	// A failed fetch leaves nothing behind.
	if _, err := st.Get(context.Background(), key); !tverr.IsCode(err, tverr.ErrNotFound) {
		t.Errorf("Get() after failure = %v, want code %v", err, tverr.ErrNotFound)
	}
}

func TestWait_CancelDoesNotAbortCommit(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		<-release
		return &Result{Payload: []byte("late tile")}, nil
	})
	d := newTestDownloader(t, st, f, testConfig())

	key := resource.SpriteKey("https://maps.example.com/sprite.png")
	h := d.Fetch(context.Background(), Request{Key: key, URL: "https://maps.example.com/sprite.png"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() with cancelled ctx = %v, want context.Canceled", err)
	}

	// The abandoned transfer still runs to completion and commits.
	close(release)
	<-h.Done()

	got, err := st.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() after abandoned wait: %v", err)
	}
	if string(got.Payload) != "late tile" {
		t.Errorf("payload = %q, want %q", got.Payload, "late tile")
	}
}

func TestCancelRegion_AbortsUnsharedFetches(t *testing.T) {
	st := newTestStore(t)
	started := make(chan struct{}, 1)
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := newTestDownloader(t, st, f, testConfig())

	reg, err := st.CreateRegion(context.Background(), testDefinition(), nil)
	if err != nil {
		t.Fatalf("CreateRegion() error = %v", err)
	}

	key := resource.TileKey("https://tiles.example.com/{z}/{x}/{y}.pbf", maptile.New(0, 0, 0))
	h := d.Fetch(context.Background(), Request{
		Key:      key,
		URL:      "https://tiles.example.com/0/0/0.pbf",
		Priority: PriorityRegion,
		RegionID: reg.ID,
	})
	<-started

	d.CancelRegion(reg.ID)
	if _, err := h.Wait(context.Background()); !tverr.IsCode(err, tverr.ErrCanceled) {
		t.Fatalf("Wait() after CancelRegion = %v, want code %v", err, tverr.ErrCanceled)
	}
	if _, err := st.Get(context.Background(), key); !tverr.IsCode(err, tverr.ErrNotFound) {
		t.Errorf("Get() after aborted fetch = %v, want code %v", err, tverr.ErrNotFound)
	}
}

func TestCancelRegion_SharedFetchSurvives(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		started <- struct{}{}
		select {
		case <-release:
			return &Result{Payload: []byte("shared tile")}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	d := newTestDownloader(t, st, f, testConfig())

	reg, err := st.CreateRegion(context.Background(), testDefinition(), nil)
	if err != nil {
		t.Fatalf("CreateRegion() error = %v", err)
	}

	key := resource.TileKey("https://tiles.example.com/{z}/{x}/{y}.pbf", maptile.New(0, 0, 0))
	url := "https://tiles.example.com/0/0/0.pbf"
	regionHandle := d.Fetch(context.Background(), Request{Key: key, URL: url, Priority: PriorityRegion, RegionID: reg.ID})
	<-started
	ambientHandle := d.Fetch(context.Background(), Request{Key: key, URL: url})
	if ambientHandle != regionHandle {
		t.Fatal("ambient fetch did not attach to the in-flight region fetch")
	}

	d.CancelRegion(reg.ID)
	close(release)

	resp, err := ambientHandle.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() = %v, want success for the surviving ambient waiter", err)
	}
	if string(resp.Resource.Payload) != "shared tile" {
		t.Errorf("payload = %q, want %q", resp.Resource.Payload, "shared tile")
	}
}

func TestFetch_QuotaExceededDeliversToWaiters(t *testing.T) {
	st := newTestStore(t)
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		return &Result{Payload: []byte("tile bytes")}, nil
	})
	cfg := testConfig()
	cfg.TileCountLimit = 1
	d := newTestDownloader(t, st, f, cfg)

	reg, err := st.CreateRegion(context.Background(), testDefinition(), nil)
	if err != nil {
		t.Fatalf("CreateRegion() error = %v", err)
	}

	source := "https://tiles.example.com/{z}/{x}/{y}.pbf"
	first := d.Fetch(context.Background(), Request{
		Key:      resource.TileKey(source, maptile.New(0, 0, 1)),
		URL:      "https://tiles.example.com/1/0/0.pbf",
		Priority: PriorityRegion,
		RegionID: reg.ID,
	})
	if _, err := first.Wait(context.Background()); err != nil {
		t.Fatalf("first tile: %v", err)
	}

	overKey := resource.TileKey(source, maptile.New(1, 0, 1))
	second := d.Fetch(context.Background(), Request{
		Key:      overKey,
		URL:      "https://tiles.example.com/1/1/0.pbf",
		Priority: PriorityRegion,
		RegionID: reg.ID,
	})
	if _, err := second.Wait(context.Background()); !tverr.IsCode(err, tverr.ErrQuotaExceeded) {
		t.Fatalf("second tile error = %v, want code %v", err, tverr.ErrQuotaExceeded)
	}

	// The rejected payload must not be committed in any form.
	if _, err := st.Get(context.Background(), overKey); !tverr.IsCode(err, tverr.ErrNotFound) {
		t.Errorf("Get(over-quota tile) = %v, want code %v", err, tverr.ErrNotFound)
	}

	// Raising the limit applies to subsequent fetches.
	d.SetTileCountLimit(2)
	third := d.Fetch(context.Background(), Request{
		Key:      overKey,
		URL:      "https://tiles.example.com/1/1/0.pbf",
		Priority: PriorityRegion,
		RegionID: reg.ID,
	})
	if _, err := third.Wait(context.Background()); err != nil {
		t.Fatalf("after raising the limit: %v", err)
	}
}

func TestFetch_NotModifiedRefreshesStoredEntry(t *testing.T) {
	st := newTestStore(t)
	key := resource.SourceKey("https://tiles.example.com/tiles.json")
	stored := resource.New(key, []byte(`{"tilejson":"3.0.0"}`))
	stored.ETag = `"v1"`
	stored.Expires = time.Now().Add(-time.Minute)
	if err := st.Put(context.Background(), stored); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	newExpiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	var gotCond Conditional
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		gotCond = cond
		return &Result{NotModified: true, ETag: `"v1"`, Expires: newExpiry}, nil
	})
	d := newTestDownloader(t, st, f, testConfig())

	h := d.Fetch(context.Background(), Request{
		Key:         key,
		URL:         "https://tiles.example.com/tiles.json",
		Conditional: Conditional{ETag: `"v1"`},
	})
	resp, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !resp.NotModified {
		t.Error("NotModified = false, want true")
	}
	if string(resp.Resource.Payload) != string(stored.Payload) {
		t.Errorf("payload = %q, want the stored copy", resp.Resource.Payload)
	}
	if gotCond.ETag != `"v1"` {
		t.Errorf("conditional ETag sent = %q, want %q", gotCond.ETag, `"v1"`)
	}

	meta, err := st.GetMeta(context.Background(), key)
	if err != nil {
		t.Fatalf("GetMeta() error = %v", err)
	}
	if !meta.Expires.Equal(newExpiry) {
		t.Errorf("refreshed Expires = %v, want %v", meta.Expires, newExpiry)
	}
}

func TestFetch_AfterClose(t *testing.T) {
	st := newTestStore(t)
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		return &Result{Payload: []byte("x")}, nil
	})
	d := New(st, nil, map[string]Fetcher{"https": f}, testConfig(), nil)
	d.Start()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	h := d.Fetch(context.Background(), Request{
		Key: resource.StyleKey("https://maps.example.com/style.json"),
		URL: "https://maps.example.com/style.json",
	})
	if _, err := h.Wait(context.Background()); !tverr.IsCode(err, tverr.ErrCanceled) {
		t.Errorf("Fetch() after Close = %v, want code %v", err, tverr.ErrCanceled)
	}
}

func TestFetch_UnknownSchemeFails(t *testing.T) {
	st := newTestStore(t)
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		return &Result{Payload: []byte("x")}, nil
	})
	d := newTestDownloader(t, st, f, testConfig())

	h := d.Fetch(context.Background(), Request{
		Key: resource.StyleKey("ftp://maps.example.com/style.json"),
		URL: "ftp://maps.example.com/style.json",
	})
	if _, err := h.Wait(context.Background()); !tverr.IsCode(err, tverr.ErrNetwork) {
		t.Errorf("Wait() = %v, want code %v", err, tverr.ErrNetwork)
	}
}

func TestWorker_RegionBeatsAmbient(t *testing.T) {
	st := newTestStore(t)
	var mu sync.Mutex
	var order []string
	gate := make(chan struct{})
	blocked := make(chan struct{})
	var once sync.Once
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		if url == "https://maps.example.com/gate.json" {
			once.Do(func() { close(blocked) })
			<-gate
		} else {
			mu.Lock()
			order = append(order, url)
			mu.Unlock()
		}
		return &Result{Payload: []byte("x")}, nil
	})
	cfg := testConfig()
	cfg.Workers = 1
	d := newTestDownloader(t, st, f, cfg)

	reg, err := st.CreateRegion(context.Background(), testDefinition(), nil)
	if err != nil {
		t.Fatalf("CreateRegion() error = %v", err)
	}

	gateHandle := d.Fetch(context.Background(), Request{
		Key: resource.StyleKey("https://maps.example.com/gate.json"),
		URL: "https://maps.example.com/gate.json",
	})
	<-blocked

	// Queued while the only worker is busy: ambient first, region second.
	ambient := d.Fetch(context.Background(), Request{
		Key: resource.SpriteKey("https://maps.example.com/sprite.json"),
		URL: "https://maps.example.com/sprite.json",
	})
	region := d.Fetch(context.Background(), Request{
		Key:      resource.TileKey("https://tiles.example.com/{z}/{x}/{y}.pbf", maptile.New(0, 0, 0)),
		URL:      "https://tiles.example.com/0/0/0.pbf",
		Priority: PriorityRegion,
		RegionID: reg.ID,
	})
	close(gate)

	for name, h := range map[string]*Handle{"gate": gateHandle, "ambient": ambient, "region": region} {
		if _, err := h.Wait(context.Background()); err != nil {
			t.Fatalf("%s fetch: %v", name, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"https://tiles.example.com/0/0/0.pbf", "https://maps.example.com/sprite.json"}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("processing order = %v, want %v", order, want)
	}
}

func TestStats_CountsOutcomes(t *testing.T) {
	st := newTestStore(t)
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		if url == "https://maps.example.com/bad.json" {
			return nil, errors.New("origin rejected request")
		}
		return &Result{Payload: []byte("x")}, nil
	})
	d := newTestDownloader(t, st, f, testConfig())

	ok := d.Fetch(context.Background(), Request{
		Key: resource.StyleKey("https://maps.example.com/style.json"),
		URL: "https://maps.example.com/style.json",
	})
	bad := d.Fetch(context.Background(), Request{
		Key: resource.StyleKey("https://maps.example.com/bad.json"),
		URL: "https://maps.example.com/bad.json",
	})
	if _, err := ok.Wait(context.Background()); err != nil {
		t.Fatalf("good fetch: %v", err)
	}
	if _, err := bad.Wait(context.Background()); err == nil {
		t.Fatal("bad fetch succeeded, want failure")
	}

	s := d.Stats()
	if s.Completed != 1 {
		t.Errorf("Completed = %d, want 1", s.Completed)
	}
	if s.Failed != 1 {
		t.Errorf("Failed = %d, want 1", s.Failed)
	}
	if s.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", s.InFlight)
	}
}

func TestNew_InvalidConfigUsesDefaults(t *testing.T) {
	st := newTestStore(t)
	d := New(st, nil, nil, Config{Workers: -1, QueueDepth: -1, MaxRetries: -1}, nil)
	t.Cleanup(func() { d.Close() })

	if d.cfg.Workers != DefaultWorkers {
		t.Errorf("Workers = %d, want %d", d.cfg.Workers, DefaultWorkers)
	}
	if cap(d.region) != DefaultQueueDepth {
		t.Errorf("region queue capacity = %d, want %d", cap(d.region), DefaultQueueDepth)
	}
	if d.cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", d.cfg.MaxRetries, DefaultMaxRetries)
	}
}

type captureMetrics struct {
	mu      sync.Mutex
	fetches map[string]int
	retries int
	shared  int
}

func (m *captureMetrics) RecordFetch(result string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetches == nil {
		m.fetches = make(map[string]int)
	}
	m.fetches[result]++
}

func (m *captureMetrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *captureMetrics) RecordShared() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shared++
}

func (m *captureMetrics) RecordQueueDepth(region, ambient int) {}

func (m *captureMetrics) RecordInFlight(count int) {}

func TestMetrics_Recorded(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var attempts atomic.Int32
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		if url == "https://maps.example.com/slow.json" {
			started <- struct{}{}
			<-release
			return &Result{Payload: []byte("slow")}, nil
		}
		if attempts.Add(1) == 1 {
			return nil, &TemporaryError{Err: errors.New("flaky origin")}
		}
		return &Result{Payload: []byte("ok")}, nil
	})
	m := &captureMetrics{}
	d := New(st, nil, map[string]Fetcher{"https": f}, testConfig(), m)
	d.Start()
	t.Cleanup(func() { d.Close() })

	slowKey := resource.StyleKey("https://maps.example.com/slow.json")
	h1 := d.Fetch(context.Background(), Request{Key: slowKey, URL: "https://maps.example.com/slow.json"})
	<-started
	h2 := d.Fetch(context.Background(), Request{Key: slowKey, URL: "https://maps.example.com/slow.json"})
	close(release)
	if _, err := h1.Wait(context.Background()); err != nil {
		t.Fatalf("slow fetch: %v", err)
	}
	if _, err := h2.Wait(context.Background()); err != nil {
		t.Fatalf("attached fetch: %v", err)
	}

	retryKey := resource.StyleKey("https://maps.example.com/retry.json")
	h3 := d.Fetch(context.Background(), Request{Key: retryKey, URL: "https://maps.example.com/retry.json"})
	if _, err := h3.Wait(context.Background()); err != nil {
		t.Fatalf("retried fetch: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shared != 1 {
		t.Errorf("shared = %d, want 1", m.shared)
	}
	if m.retries != 1 {
		t.Errorf("retries = %d, want 1", m.retries)
	}
	if m.fetches[ResultSuccess] != 2 {
		t.Errorf("success fetches = %d, want 2", m.fetches[ResultSuccess])
	}
}

// faultStore fails resource writes while delegating everything else.
type faultStore struct {
	store.Store
	putErr error
}

func (s *faultStore) Put(ctx context.Context, res *resource.Resource) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, res)
}

func (s *faultStore) PutLinked(ctx context.Context, res *resource.Resource, regionID, tileLimit int64) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.PutLinked(ctx, res, regionID, tileLimit)
}

func TestFetch_AmbientCommitFailureStillDelivers(t *testing.T) {
	st := &faultStore{
		Store:  newTestStore(t),
		putErr: tverr.NewIOError("cache write", errors.New("disk full")),
	}
	f := fetcherFunc(func(ctx context.Context, url string, cond Conditional) (*Result, error) {
		return &Result{Payload: []byte("sprite sheet")}, nil
	})
	d := newTestDownloader(t, st, f, testConfig())

	url := "https://maps.example.com/sprite.png"
	h := d.Fetch(context.Background(), Request{Key: resource.SpriteKey(url), URL: url})
	resp, err := h.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v, want the payload despite the failed write", err)
	}
	if string(resp.Resource.Payload) != "sprite sheet" {
		t.Errorf("payload = %q, want %q", resp.Resource.Payload, "sprite sheet")
	}

	// Region commits are not best-effort: the failure reaches the waiter.
	reg, err := st.CreateRegion(context.Background(), testDefinition(), nil)
	if err != nil {
		t.Fatalf("CreateRegion() error = %v", err)
	}
	h = d.Fetch(context.Background(), Request{
		Key:      resource.SpriteKey("https://maps.example.com/sprite@2x.png"),
		URL:      "https://maps.example.com/sprite@2x.png",
		Priority: PriorityRegion,
		RegionID: reg.ID,
	})
	if _, err := h.Wait(context.Background()); err == nil {
		t.Fatal("Wait() on a failed region commit succeeded, want error")
	}
}
