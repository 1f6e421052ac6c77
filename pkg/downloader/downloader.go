// Package downloader schedules origin fetches for the resource engine.
//
// Concurrent requests for one key share a single transfer and fan the
// result out to every waiter. A bounded worker pool drains two queues,
// region-priority first; ambient fetches can starve while a region
// download saturates the pool, offline downloads never wait on cache
// misses. Transient failures retry with exponential backoff; 4xx
// responses and oversized payloads fail immediately. Completed fetches
// are committed to the store by the worker, so a caller that cancels its
// wait never aborts a transfer that is already under way.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultWorkers              = 4
	DefaultQueueDepth           = 64
	DefaultMaxRetries           = 3
	DefaultRetryInitialInterval = 500 * time.Millisecond
	DefaultRetryMaxInterval     = 10 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
)

// commitTimeout bounds the store write after a transfer completes. Commits
// run on a fresh context so caller cancellation cannot interrupt them.
const commitTimeout = time.Minute

// stopTimeout bounds how long Close waits for in-flight transfers.
const stopTimeout = 10 * time.Second

// Priority selects which queue a fetch is scheduled on.
type Priority int

const (
	// PriorityAmbient is for ad-hoc cache misses and revalidations.
	PriorityAmbient Priority = iota

	// PriorityRegion is for offline region downloads, drained first.
	PriorityRegion
)

// String returns the queue name for logs and metrics.
func (p Priority) String() string {
	if p == PriorityRegion {
		return "region"
	}
	return "ambient"
}

// Request describes one fetch.
type Request struct {
	// Key is the store identity the result is committed under.
	Key resource.Key

	// URL is the origin locator; its scheme selects the fetcher.
	URL string

	// Priority selects the queue. Defaults to PriorityAmbient.
	Priority Priority

	// RegionID, when positive, links the committed resource to that
	// region (counting toward the tile quota). Zero commits an ambient
	// entry.
	RegionID int64

	// Conditional carries validators for revalidation fetches.
	Conditional Conditional
}

// Config holds downloader tuning.
type Config struct {
	// Workers is the number of concurrent transfers.
	Workers int

	// QueueDepth is the buffered depth of each priority queue. Fetches
	// beyond it block the enqueuing caller.
	QueueDepth int

	// MaxRetries is the total number of attempts for a transiently
	// failing fetch before the resource errors.
	MaxRetries int

	// RetryInitialInterval is the first backoff delay.
	RetryInitialInterval time.Duration

	// RetryMaxInterval caps the backoff delay.
	RetryMaxInterval time.Duration

	// RequestTimeout bounds each individual attempt.
	RequestTimeout time.Duration

	// TileCountLimit is the global ceiling on region-linked tiles,
	// checked before every region commit. Zero or below is unlimited.
	TileCountLimit int64
}

// DefaultConfig returns the default downloader configuration.
func DefaultConfig() Config {
	return Config{
		Workers:              DefaultWorkers,
		QueueDepth:           DefaultQueueDepth,
		MaxRetries:           DefaultMaxRetries,
		RetryInitialInterval: DefaultRetryInitialInterval,
		RetryMaxInterval:     DefaultRetryMaxInterval,
		RequestTimeout:       DefaultRequestTimeout,
	}
}

// Capacity runs an ambient eviction pass after size-increasing writes.
// *cache.Manager satisfies it.
type Capacity interface {
	EnsureCapacity(ctx context.Context) error
}

// entry is one in-flight fetch with every requester attached to it.
type entry struct {
	key      resource.Key
	url      string
	cond     Conditional
	priority Priority

	ctx    context.Context
	cancel context.CancelFunc
	handle *Handle

	mu      sync.Mutex
	ambient bool
	links   map[int64]struct{} // region ids awaiting a link
}

func (e *entry) attach(req Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if req.RegionID > 0 {
		e.links[req.RegionID] = struct{}{}
	} else {
		e.ambient = true
	}
}

// detach removes a region's interest and reports whether nobody is left
// waiting, in which case the transfer should be aborted.
func (e *entry) detach(regionID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.links[regionID]; !ok {
		return false
	}
	delete(e.links, regionID)
	return !e.ambient && len(e.links) == 0
}

// attachments snapshots the attached region ids at commit time, sorted so
// link order is deterministic. An empty result means the fetch commits as
// an ambient entry.
func (e *entry) attachments() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	links := make([]int64, 0, len(e.links))
	for id := range e.links {
		links = append(links, id)
	}
	sort.Slice(links, func(i, j int) bool { return links[i] < links[j] })
	return links
}

// Downloader is the fetch scheduler.
type Downloader struct {
	store    store.Store
	capacity Capacity
	fetchers map[string]Fetcher
	cfg      Config
	metrics  Metrics

	tileLimit atomic.Int64

	// baseCtx parents every transfer; Close cancels it.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	inflight  map[resource.Key]*entry
	closed    bool
	started   bool
	completed int
	failed    int

	region  chan *entry
	ambient chan *entry

	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New creates a Downloader committing results to st. capacity may be nil
// (no eviction passes after ambient writes), as may metrics. fetchers maps
// locator schemes to origins; a scheme with no fetcher fails terminally.
func New(st store.Store, capacity Capacity, fetchers map[string]Fetcher, cfg Config, metrics Metrics) *Downloader {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = DefaultRetryMaxInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	d := &Downloader{
		store:      st,
		capacity:   capacity,
		fetchers:   fetchers,
		cfg:        cfg,
		metrics:    metrics,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		inflight:   make(map[resource.Key]*entry),
		region:     make(chan *entry, cfg.QueueDepth),
		ambient:    make(chan *entry, cfg.QueueDepth),
		stopCh:     make(chan struct{}),
		stoppedCh:  make(chan struct{}),
	}
	d.tileLimit.Store(cfg.TileCountLimit)
	return d
}

// Start launches the worker pool. Fetch may be called before Start; the
// requests queue until workers come up.
func (d *Downloader) Start() {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	logger.Info("starting downloader",
		"workers", d.cfg.Workers,
		logger.KeyQueueDepth, d.cfg.QueueDepth)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	go func() {
		d.wg.Wait()
		close(d.stoppedCh)
	}()
}

// SetTileCountLimit updates the global linked-tile ceiling applied to
// subsequent region commits. Zero or below means unlimited.
func (d *Downloader) SetTileCountLimit(n int64) {
	d.tileLimit.Store(n)
}

// TileCountLimit returns the current linked-tile ceiling.
func (d *Downloader) TileCountLimit() int64 {
	return d.tileLimit.Load()
}

// Fetch schedules a fetch and returns its completion handle. A request for
// a key already in flight attaches to the existing transfer instead of
// starting a second one; all attached waiters receive the same result.
//
// ctx bounds only the enqueue: when both the queue and ctx run out the
// fetch fails without being attempted. Waiting is bounded by the ctx
// passed to Handle.Wait.
func (d *Downloader) Fetch(ctx context.Context, req Request) *Handle {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		h := newHandle(req.Key)
		h.finish(Response{}, tverr.NewCanceledError(req.Key.String()))
		return h
	}
	if e, ok := d.inflight[req.Key]; ok {
		e.attach(req)
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.RecordShared()
		}
		return e.handle
	}

	ectx, cancel := context.WithCancel(d.baseCtx)
	e := &entry{
		key:      req.Key,
		url:      req.URL,
		cond:     req.Conditional,
		priority: req.Priority,
		ctx:      ectx,
		cancel:   cancel,
		handle:   newHandle(req.Key),
		links:    make(map[int64]struct{}),
	}
	e.attach(req)
	d.inflight[req.Key] = e
	count := len(d.inflight)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordInFlight(count)
	}

	queue := d.ambient
	if req.Priority == PriorityRegion {
		queue = d.region
	}
	select {
	case queue <- e:
		d.sampleQueues()
	case <-ctx.Done():
		d.finish(e, Response{}, ctx.Err())
	case <-d.stopCh:
		d.finish(e, Response{}, tverr.NewCanceledError(req.Key.String()))
	}
	return e.handle
}

// CancelRegion detaches every pending fetch from the region and aborts
// transfers no other requester is attached to. Fetches shared with another
// region or with ambient traffic keep running and commit normally.
func (d *Downloader) CancelRegion(regionID int64) {
	d.mu.Lock()
	var doomed []*entry
	for _, e := range d.inflight {
		if e.detach(regionID) {
			doomed = append(doomed, e)
		}
	}
	d.mu.Unlock()

	for _, e := range doomed {
		e.cancel()
	}
	if len(doomed) > 0 {
		logger.Debug("cancelled region fetches",
			logger.KeyRegionID, regionID,
			"count", len(doomed))
	}
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	InFlight      int `json:"in_flight"`
	QueuedRegion  int `json:"queued_region"`
	QueuedAmbient int `json:"queued_ambient"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
}

// Stats returns a snapshot of scheduler activity.
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		InFlight:      len(d.inflight),
		QueuedRegion:  len(d.region),
		QueuedAmbient: len(d.ambient),
		Completed:     d.completed,
		Failed:        d.failed,
	}
}

// Close aborts in-flight transfers, fails queued fetches as canceled and
// waits for the workers to exit.
func (d *Downloader) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	d.baseCancel()
	close(d.stopCh)

	if started {
		select {
		case <-d.stoppedCh:
			logger.Info("downloader stopped")
		case <-time.After(stopTimeout):
			logger.Warn("downloader stop timed out")
		}
	}

	// Fail anything a racing Fetch managed to enqueue after the workers
	// drained.
	d.drain()
	return nil
}

// worker drains the queues, region-priority first. Ambient fetches can
// starve while a region download saturates the pool.
func (d *Downloader) worker(id int) {
	defer d.wg.Done()

	logger.Debug("downloader worker started", "worker_id", id)

	for {
		select {
		case e := <-d.region:
			d.process(e)
			continue
		default:
		}

		select {
		case e := <-d.region:
			d.process(e)
		case e := <-d.ambient:
			d.process(e)
		case <-d.stopCh:
			d.drain()
			logger.Debug("downloader worker stopped", "worker_id", id)
			return
		}
	}
}

// drain fails queued entries during shutdown.
func (d *Downloader) drain() {
	for {
		select {
		case e := <-d.region:
			d.finish(e, Response{}, tverr.NewCanceledError(e.key.String()))
		case e := <-d.ambient:
			d.finish(e, Response{}, tverr.NewCanceledError(e.key.String()))
		default:
			return
		}
	}
}

// process runs one fetch end to end: retrying transfer, store commit,
// fan-out.
func (d *Downloader) process(e *entry) {
	d.sampleQueues()
	start := time.Now()

	if e.ctx.Err() != nil {
		d.record(ResultCanceled, start)
		d.finish(e, Response{}, tverr.NewCanceledError(e.key.String()))
		return
	}

	result, err := d.fetchWithRetry(e)
	if err != nil {
		if e.ctx.Err() != nil {
			d.record(ResultCanceled, start)
			d.finish(e, Response{}, tverr.NewCanceledError(e.key.String()))
			return
		}
		d.record(ResultErrored, start)
		d.finish(e, Response{}, tverr.NewNetworkError(e.key.String(), err))
		return
	}

	resp, err := d.commit(e, result)
	if err != nil {
		d.record(ResultErrored, start)
		d.finish(e, Response{}, err)
		return
	}

	if resp.NotModified {
		d.record(ResultNotModified, start)
	} else {
		d.record(ResultSuccess, start)
	}
	d.finish(e, resp, nil)
}

// fetchWithRetry performs the transfer, retrying transient failures with
// exponential backoff up to the configured attempt budget.
func (d *Downloader) fetchWithRetry(e *entry) (*Result, error) {
	f, err := d.fetcherFor(e.url)
	if err != nil {
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryInitialInterval
	bo.MaxInterval = d.cfg.RetryMaxInterval
	bo.Multiplier = 2

	var retries uint64
	if d.cfg.MaxRetries > 1 {
		retries = uint64(d.cfg.MaxRetries - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, retries), e.ctx)

	var result *Result
	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(e.ctx, d.cfg.RequestTimeout)
		defer cancel()

		r, ferr := f.Fetch(ctx, e.url, e.cond)
		if ferr != nil {
			if e.ctx.Err() != nil {
				return backoff.Permanent(e.ctx.Err())
			}
			if errors.Is(ferr, context.DeadlineExceeded) {
				ferr = &TemporaryError{Err: fmt.Errorf("request timed out after %s", d.cfg.RequestTimeout)}
			}
			if !IsTemporary(ferr) {
				return backoff.Permanent(ferr)
			}
			logger.Debug("fetch attempt failed, will retry",
				logger.KeyResource, e.key.String(),
				logger.KeyAttempt, attempt,
				logger.KeyMaxRetries, d.cfg.MaxRetries,
				logger.KeyError, ferr)
			if d.metrics != nil {
				d.metrics.RecordRetry()
			}
			return ferr
		}
		result = r
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// commit persists the result for every attached requester. It runs on a
// fresh context: a transfer that finished before its callers gave up still
// commits normally, the result just isn't delivered to them. Region
// commits surface store failures to their waiters so region bookkeeping
// stays truthful; ambient commit failures only cost the cache entry.
func (d *Downloader) commit(e *entry, result *Result) (Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	links := e.attachments()

	var res *resource.Resource
	if result.NotModified {
		stored, err := d.store.Get(ctx, e.key)
		if err != nil {
			// Eviction raced the revalidation; the 304 carries no
			// payload to recover with.
			return Response{}, err
		}
		stored.Expires = result.Expires
		if result.ETag != "" {
			stored.ETag = result.ETag
		}
		if !result.Modified.IsZero() {
			stored.Modified = result.Modified
		}
		res = stored
	} else {
		res = resource.New(e.key, result.Payload)
		res.ETag = result.ETag
		res.Modified = result.Modified
		res.Expires = result.Expires
	}

	if len(links) == 0 {
		// Ambient persistence is best-effort: the transfer succeeded, so
		// waiters get the payload even when the cache write fails.
		if err := d.store.Put(ctx, res); err != nil {
			logger.Warn("ambient cache write failed",
				logger.KeyResource, e.key.String(),
				logger.KeyError, err)
			return Response{Resource: res, NotModified: result.NotModified}, nil
		}
		if d.capacity != nil {
			if err := d.capacity.EnsureCapacity(ctx); err != nil {
				logger.Warn("eviction pass failed", logger.KeyError, err)
			}
		}
	} else {
		// The first link carries the quota check; once the resource is
		// linked, further links never change the distinct-tile count.
		if err := d.store.PutLinked(ctx, res, links[0], d.tileLimit.Load()); err != nil {
			return Response{}, err
		}
		for _, id := range links[1:] {
			if err := d.store.Link(ctx, id, e.key); err != nil {
				return Response{}, err
			}
		}
	}

	return Response{Resource: res, NotModified: result.NotModified}, nil
}

// finish removes the entry and fans the result out to every waiter.
func (d *Downloader) finish(e *entry, resp Response, err error) {
	d.mu.Lock()
	if cur, ok := d.inflight[e.key]; ok && cur == e {
		delete(d.inflight, e.key)
	}
	count := len(d.inflight)
	d.mu.Unlock()

	e.cancel()
	e.handle.finish(resp, err)

	if d.metrics != nil {
		d.metrics.RecordInFlight(count)
	}
	if err != nil && !tverr.IsCode(err, tverr.ErrCanceled) {
		logger.Debug("fetch failed",
			logger.KeyResource, e.key.String(),
			logger.KeyError, err)
	}
}

func (d *Downloader) record(result string, start time.Time) {
	if d.metrics != nil {
		d.metrics.RecordFetch(result, time.Since(start))
	}
	d.mu.Lock()
	switch result {
	case ResultErrored:
		d.failed++
	case ResultSuccess, ResultNotModified:
		d.completed++
	}
	d.mu.Unlock()
}

func (d *Downloader) sampleQueues() {
	if d.metrics != nil {
		d.metrics.RecordQueueDepth(len(d.region), len(d.ambient))
	}
}

func (d *Downloader) fetcherFor(raw string) (Fetcher, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid locator %q: %w", raw, err)
	}
	f, ok := d.fetchers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for scheme %q", u.Scheme)
	}
	return f, nil
}
