// Package region implements the offline-region lifecycle: manifest
// enumeration from a style document, region CRUD, and the resumable,
// observable download state machine driving the downloader.
package region

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/downloader"
	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// downloadConcurrency bounds how many manifest fetches one region keeps in
// flight at once; the downloader's worker pool throttles actual transfers.
const downloadConcurrency = 16

// eventBuffer is the per-region status channel depth. The driver blocks
// when an observer falls this far behind.
const eventBuffer = 64

// Manager owns offline regions: creation with manifest enumeration,
// listing, deletion, and the per-region download state machine.
type Manager struct {
	store    store.Store
	dl       *downloader.Downloader
	capacity downloader.Capacity
	metrics  Metrics
	validate *validator.Validate

	mu        sync.Mutex
	active    map[int64]*download
	observers map[int64]Observer
	closed    bool
}

// download is one running download pass.
type download struct {
	regionID int64
	cancel   context.CancelFunc
	done     chan struct{}
	events   chan Status

	// emitMu orders snapshot and delivery together so observer counters
	// never run backwards.
	emitMu sync.Mutex
}

// NewManager creates a region manager. capacity may be nil (no eviction
// pass after region deletes), as may metrics.
func NewManager(st store.Store, dl *downloader.Downloader, capacity downloader.Capacity, metrics Metrics) *Manager {
	return &Manager{
		store:     st,
		dl:        dl,
		capacity:  capacity,
		metrics:   metrics,
		validate:  validator.New(),
		active:    make(map[int64]*download),
		observers: make(map[int64]Observer),
	}
}

// Create validates the definition, enumerates the manifest (fetching the
// style document and each tileset's TileJSON), and persists the region
// Inactive with its manifest count set. The fetched documents are linked
// to the new region and count as completed from the start.
func (m *Manager) Create(ctx context.Context, def store.RegionDefinition, metadata []byte) (*store.Region, error) {
	if err := m.validateDefinition(def); err != nil {
		return nil, err
	}

	style, err := m.loadStyle(ctx, def.StyleURL, 0)
	if err != nil {
		return nil, err
	}
	tilejsons, err := m.loadTileJSONs(ctx, style, 0)
	if err != nil {
		return nil, err
	}

	entries := enumerate(def, style, tilejsons)

	reg, err := m.store.CreateRegion(ctx, def, metadata)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetRegionManifestCount(ctx, reg.ID, int64(len(entries))); err != nil {
		return nil, err
	}
	reg.ManifestCount = int64(len(entries))

	if err := m.linkDocuments(ctx, reg.ID, def, style); err != nil {
		return nil, err
	}

	logger.Info("created offline region",
		logger.KeyRegionID, reg.ID,
		logger.KeyManifest, reg.ManifestCount,
		"tile_count", countTiles(entries))
	return reg, nil
}

// List returns all regions, oldest first.
func (m *Manager) List(ctx context.Context) ([]*store.Region, error) {
	return m.store.ListRegions(ctx)
}

// Get returns one region.
func (m *Manager) Get(ctx context.Context, id int64) (*store.Region, error) {
	return m.store.GetRegion(ctx, id)
}

// Status reports a point-in-time progress snapshot recomputed from
// persisted rows. The phase is derived from the stored state and
// completion, so it matches what a live observer last saw.
func (m *Manager) Status(ctx context.Context, id int64) (Status, error) {
	reg, err := m.store.GetRegion(ctx, id)
	if err != nil {
		return Status{}, err
	}
	p, err := m.store.RegionProgress(ctx, id)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		RegionID:               id,
		Phase:                  phaseOf(reg),
		ManifestCount:          reg.ManifestCount,
		CompletedResourceCount: p.CompletedResourceCount,
		CompletedTileCount:     p.CompletedTileCount,
		CompletedBytes:         p.CompletedBytes,
		ErroredResourceCount:   reg.ErroredResourceCount,
	}
	st.ManifestComplete = st.ManifestCount > 0 &&
		st.CompletedResourceCount+st.ErroredResourceCount >= st.ManifestCount
	return st, nil
}

func phaseOf(reg *store.Region) Phase {
	if reg.State != store.StateActive {
		return PhaseInactive
	}
	switch reg.Completion {
	case store.CompletionComplete:
		return PhaseComplete
	case store.CompletionCompleteWithErrors:
		return PhaseCompleteWithErrors
	case store.CompletionQuotaExceeded:
		return PhaseQuotaExceeded
	default:
		return PhaseDownloading
	}
}

// Delete removes an Inactive region and its links. Resources no other
// region links become ambient-eligible immediately; an eviction pass runs
// before returning.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	reg, err := m.store.GetRegion(ctx, id)
	if err != nil {
		return err
	}
	if reg.State != store.StateInactive {
		return tverr.NewRegionStateError(id, "cannot delete an active region")
	}
	if err := m.store.DeleteRegion(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.observers, id)
	m.mu.Unlock()

	if m.capacity != nil {
		if err := m.capacity.EnsureCapacity(ctx); err != nil {
			logger.Warn("eviction pass after region delete failed", logger.KeyError, err)
		}
	}
	logger.Info("deleted offline region", logger.KeyRegionID, id)
	return nil
}

// SetState drives the region state machine: Active starts or resumes the
// download, Inactive pauses it. Both persist the new state.
func (m *Manager) SetState(ctx context.Context, id int64, state store.State) error {
	switch state {
	case store.StateActive:
		return m.activate(ctx, id)
	case store.StateInactive:
		return m.deactivate(ctx, id)
	default:
		return tverr.NewInvalidArgumentError(fmt.Sprintf("unknown region state %d", int(state)))
	}
}

// SetObserver registers the observer receiving this region's progress. A
// nil observer unregisters. Statuses emitted before registration are not
// replayed.
func (m *Manager) SetObserver(id int64, obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obs == nil {
		delete(m.observers, id)
		return
	}
	m.observers[id] = obs
}

// SetObserverFunc registers a plain function as the region's observer.
func (m *Manager) SetObserverFunc(id int64, fn func(Status)) {
	if fn == nil {
		m.SetObserver(id, nil)
		return
	}
	m.SetObserver(id, ObserverFunc(fn))
}

// Invalidate marks every resource linked to the region as needing
// revalidation. Payloads and validators stay, so the next fetch can be a
// conditional request.
func (m *Manager) Invalidate(ctx context.Context, id int64) error {
	return m.store.InvalidateRegion(ctx, id)
}

// UpdateMetadata replaces the region's opaque client metadata.
func (m *Manager) UpdateMetadata(ctx context.Context, id int64, metadata []byte) error {
	return m.store.UpdateRegionMetadata(ctx, id, metadata)
}

// DemoteActive marks every region persisted Active as Inactive. Called at
// engine open so a crash mid-download never resumes network activity
// silently; progress is preserved and the region can be re-activated.
func (m *Manager) DemoteActive(ctx context.Context) error {
	regions, err := m.store.ListRegions(ctx)
	if err != nil {
		return err
	}
	for _, reg := range regions {
		if reg.State != store.StateActive {
			continue
		}
		if err := m.store.UpdateRegionState(ctx, reg.ID, store.StateInactive, reg.Completion); err != nil {
			return err
		}
		logger.Info("demoted active region from previous run", logger.KeyRegionID, reg.ID)
	}
	return nil
}

// Close cancels every running download and waits for the drivers to wind
// down. Regions stay persisted Active; the next engine open demotes them.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	running := make([]*download, 0, len(m.active))
	for _, dl := range m.active {
		running = append(running, dl)
	}
	m.mu.Unlock()

	for _, dl := range running {
		m.dl.CancelRegion(dl.regionID)
		dl.cancel()
	}
	for _, dl := range running {
		<-dl.done
	}
	return nil
}

func (m *Manager) activate(ctx context.Context, id int64) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return tverr.NewRegionStateError(id, "manager is shut down")
	}
	if _, running := m.active[id]; running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	reg, err := m.store.GetRegion(ctx, id)
	if err != nil {
		return err
	}

	if err := m.store.UpdateRegionState(ctx, id, store.StateActive, store.CompletionNone); err != nil {
		return err
	}
	if err := m.store.ResetRegionErrors(ctx, id); err != nil {
		return err
	}

	// The driver outlives the activating call; deactivation cancels it.
	dctx, cancel := context.WithCancel(context.Background())
	dl := &download{
		regionID: id,
		cancel:   cancel,
		done:     make(chan struct{}),
		events:   make(chan Status, eventBuffer),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return tverr.NewRegionStateError(id, "manager is shut down")
	}
	if _, running := m.active[id]; running {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.active[id] = dl
	count := len(m.active)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordActivation()
		m.metrics.RecordActiveDownloads(count)
	}
	logger.Info("activated region download",
		logger.KeyRegionID, id,
		logger.KeyManifest, reg.ManifestCount)

	go m.notify(dl)
	go m.drive(dctx, dl, reg)
	return nil
}

func (m *Manager) deactivate(ctx context.Context, id int64) error {
	reg, err := m.store.GetRegion(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	dl := m.active[id]
	m.mu.Unlock()

	if dl != nil {
		m.dl.CancelRegion(id)
		dl.cancel()
		<-dl.done

		// The driver may have recorded a terminal completion while we
		// waited; preserve it.
		reg, err = m.store.GetRegion(ctx, id)
		if err != nil {
			return err
		}
	}
	return m.store.UpdateRegionState(ctx, id, store.StateInactive, reg.Completion)
}

// drive runs one download pass: assemble the pending manifest, fan fetches
// through the downloader, and record the terminal outcome.
func (m *Manager) drive(ctx context.Context, dl *download, reg *store.Region) {
	defer close(dl.done)
	defer func() {
		m.mu.Lock()
		delete(m.active, dl.regionID)
		count := len(m.active)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordActiveDownloads(count)
		}
	}()
	defer close(dl.events)

	id := dl.regionID

	pending, err := m.pendingEntries(ctx, reg)
	if err != nil {
		if ctx.Err() != nil {
			m.emit(dl, PhaseInactive)
			return
		}
		logger.Error("manifest assembly failed",
			logger.KeyRegionID, id,
			logger.KeyError, err)
		if aerr := m.store.AddRegionError(context.Background(), id); aerr != nil {
			logger.Warn("recording resource error failed", logger.KeyRegionID, id, logger.KeyError, aerr)
		}
		m.finishPass(dl, store.CompletionCompleteWithErrors, PhaseCompleteWithErrors)
		return
	}

	logger.Info("region download pass starting",
		logger.KeyRegionID, id,
		"pending", len(pending))
	m.emit(dl, PhaseDownloading)

	var quota atomic.Bool
	sem := make(chan struct{}, downloadConcurrency)
	var wg sync.WaitGroup

	for _, e := range pending {
		if ctx.Err() != nil || quota.Load() {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			defer func() { <-sem }()

			h := m.dl.Fetch(ctx, downloader.Request{
				Key:      e.Key,
				URL:      e.URL,
				Priority: downloader.PriorityRegion,
				RegionID: id,
			})
			if _, err := h.Wait(ctx); err != nil {
				switch {
				case tverr.IsCode(err, tverr.ErrQuotaExceeded):
					if quota.CompareAndSwap(false, true) {
						m.dl.CancelRegion(id)
						logger.Warn("tile quota exceeded, halting region download",
							logger.KeyRegionID, id)
					}
					return
				case tverr.IsCode(err, tverr.ErrCanceled), errors.Is(err, context.Canceled):
					return
				default:
					// Commits run detached from ctx, so record against a
					// background context too.
					if aerr := m.store.AddRegionError(context.Background(), id); aerr != nil {
						logger.Warn("recording resource error failed",
							logger.KeyRegionID, id, logger.KeyError, aerr)
					}
					logger.Debug("manifest entry errored",
						logger.KeyRegionID, id,
						logger.KeyResource, e.Key.String(),
						logger.KeyError, err)
				}
			}
			m.emit(dl, PhaseDownloading)
		}(e)
	}
	wg.Wait()

	switch {
	case quota.Load():
		m.finishPass(dl, store.CompletionQuotaExceeded, PhaseQuotaExceeded)
	case ctx.Err() != nil:
		m.emit(dl, PhaseInactive)
	default:
		current, err := m.store.GetRegion(context.Background(), id)
		if err == nil && current.ErroredResourceCount > 0 {
			m.finishPass(dl, store.CompletionCompleteWithErrors, PhaseCompleteWithErrors)
		} else {
			m.finishPass(dl, store.CompletionComplete, PhaseComplete)
		}
	}
}

// pendingEntries re-derives the manifest from the persisted definition and
// subtracts already-linked resources, so resuming a download never
// re-fetches completed entries.
func (m *Manager) pendingEntries(ctx context.Context, reg *store.Region) ([]Entry, error) {
	style, err := m.loadStyle(ctx, reg.Definition.StyleURL, reg.ID)
	if err != nil {
		return nil, err
	}
	tilejsons, err := m.loadTileJSONs(ctx, style, reg.ID)
	if err != nil {
		return nil, err
	}
	entries := enumerate(reg.Definition, style, tilejsons)

	if n := int64(len(entries)); n != reg.ManifestCount {
		// The style changed since the region was created; persist the
		// recount so progress reporting stays truthful.
		if err := m.store.SetRegionManifestCount(ctx, reg.ID, n); err != nil {
			return nil, err
		}
	}

	linked, err := m.store.LinkedKeys(ctx, reg.ID)
	if err != nil {
		return nil, err
	}
	pending := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := linked[e.Key.String()]; !ok {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// loadStyle returns the parsed style document, reading the stored copy
// when present and fetching it otherwise. regionID > 0 links the fetched
// document to that region; 0 fetches it as an ambient entry.
func (m *Manager) loadStyle(ctx context.Context, styleURL string, regionID int64) (*styleDocument, error) {
	payload, err := m.loadDocument(ctx, resource.StyleKey(styleURL), styleURL, regionID)
	if err != nil {
		return nil, err
	}
	return parseStyle(payload)
}

func (m *Manager) loadTileJSONs(ctx context.Context, style *styleDocument, regionID int64) (map[string]*tileJSON, error) {
	var mu sync.Mutex
	tilejsons := make(map[string]*tileJSON)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range style.tilesets() {
		src := style.Sources[name]
		if src.URL == "" {
			continue
		}
		g.Go(func() error {
			payload, err := m.loadDocument(gctx, resource.SourceKey(src.URL), src.URL, regionID)
			if err != nil {
				return err
			}
			doc, err := parseTileJSON(payload)
			if err != nil {
				return err
			}
			mu.Lock()
			tilejsons[name] = doc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tilejsons, nil
}

func (m *Manager) loadDocument(ctx context.Context, key resource.Key, locator string, regionID int64) ([]byte, error) {
	if res, err := m.store.Get(ctx, key); err == nil {
		return res.Payload, nil
	}
	priority := downloader.PriorityAmbient
	if regionID > 0 {
		priority = downloader.PriorityRegion
	}
	h := m.dl.Fetch(ctx, downloader.Request{
		Key:      key,
		URL:      locator,
		Priority: priority,
		RegionID: regionID,
	})
	resp, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Resource.Payload, nil
}

// linkDocuments links the style and source-metadata documents fetched
// during enumeration to the new region.
func (m *Manager) linkDocuments(ctx context.Context, id int64, def store.RegionDefinition, style *styleDocument) error {
	keys := []resource.Key{resource.StyleKey(def.StyleURL)}
	for _, name := range style.tilesets() {
		if src := style.Sources[name]; src.URL != "" {
			keys = append(keys, resource.SourceKey(src.URL))
		}
	}
	for _, key := range keys {
		if err := m.store.Link(ctx, id, key); err != nil {
			return err
		}
	}
	return nil
}

// emit computes a fresh status snapshot and queues it for the notifier.
func (m *Manager) emit(dl *download, phase Phase) {
	dl.emitMu.Lock()
	defer dl.emitMu.Unlock()
	dl.events <- m.statusFor(dl.regionID, phase)
}

// statusFor recomputes progress from persisted rows. It deliberately uses
// a background context: status must stay accurate while the driver's
// context is being cancelled, or counters would run backwards.
func (m *Manager) statusFor(id int64, phase Phase) Status {
	ctx := context.Background()
	st := Status{RegionID: id, Phase: phase}
	if reg, err := m.store.GetRegion(ctx, id); err == nil {
		st.ManifestCount = reg.ManifestCount
		st.ErroredResourceCount = reg.ErroredResourceCount
	}
	if p, err := m.store.RegionProgress(ctx, id); err == nil {
		st.CompletedResourceCount = p.CompletedResourceCount
		st.CompletedTileCount = p.CompletedTileCount
		st.CompletedBytes = p.CompletedBytes
	}
	st.ManifestComplete = st.ManifestCount > 0 &&
		st.CompletedResourceCount+st.ErroredResourceCount >= st.ManifestCount
	return st
}

func (m *Manager) finishPass(dl *download, completion store.Completion, phase Phase) {
	if err := m.store.UpdateRegionState(context.Background(), dl.regionID, store.StateActive, completion); err != nil {
		logger.Warn("recording completion failed",
			logger.KeyRegionID, dl.regionID,
			logger.KeyError, err)
	}
	m.emit(dl, phase)
	if m.metrics != nil {
		m.metrics.RecordTerminal(string(phase))
	}
	logger.Info("region download finished",
		logger.KeyRegionID, dl.regionID,
		logger.KeyPhase, string(phase))
}

// notify delivers queued statuses to the region's observer, if any.
func (m *Manager) notify(dl *download) {
	for st := range dl.events {
		m.mu.Lock()
		obs := m.observers[dl.regionID]
		m.mu.Unlock()
		if obs != nil {
			obs.RegionChanged(st)
		}
	}
}

func (m *Manager) validateDefinition(def store.RegionDefinition) error {
	if err := m.validate.Struct(def); err != nil {
		return tverr.NewInvalidRegionDefinitionError(err.Error())
	}
	if def.MinLat > def.MaxLat || def.MinLon > def.MaxLon {
		return tverr.NewInvalidRegionDefinitionError("bounding box min exceeds max")
	}
	if def.MinZoom > def.MaxZoom {
		return tverr.NewInvalidRegionDefinitionError("min zoom exceeds max zoom")
	}
	if def.MaxZoom > MaxSupportedZoom {
		return tverr.NewInvalidRegionDefinitionError(
			fmt.Sprintf("max zoom %d exceeds supported maximum %d", def.MaxZoom, MaxSupportedZoom))
	}
	u, err := url.Parse(def.StyleURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return tverr.NewInvalidRegionDefinitionError("style url must be absolute")
	}
	switch u.Scheme {
	case "http", "https", "s3":
	default:
		return tverr.NewInvalidRegionDefinitionError(
			fmt.Sprintf("unsupported style url scheme %q", u.Scheme))
	}
	return nil
}
