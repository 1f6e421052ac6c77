// Package router is the read front door: it resolves resource requests
// against the hot cache and the store, serves stale entries immediately
// while revalidating them in the background, and delegates misses to the
// downloader at ambient priority.
package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/downloader"
	"github.com/tilevault/tilevault/pkg/resource"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

const (
	// DefaultHotEntries bounds the in-memory hot cache.
	DefaultHotEntries = 512

	// DefaultHotTTL is how long a hot entry may be served without
	// re-reading the store.
	DefaultHotTTL = time.Minute

	// DefaultHotMaxPayload is the largest payload kept hot. Bigger
	// resources are served from the store every time.
	DefaultHotMaxPayload = 256 << 10
)

// Config tunes the hot cache.
type Config struct {
	HotEntries    int           `json:"hot_entries"`
	HotTTL        time.Duration `json:"hot_ttl"`
	HotMaxPayload int64         `json:"hot_max_payload"`
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		HotEntries:    DefaultHotEntries,
		HotTTL:        DefaultHotTTL,
		HotMaxPayload: DefaultHotMaxPayload,
	}
}

// Stats is a point-in-time snapshot of the router's hot cache.
type Stats struct {
	HotEntries int `json:"hot_entries"`
}

// Router resolves resource requests. Safe for concurrent use.
type Router struct {
	store   store.Store
	dl      *downloader.Downloader
	cfg     Config
	metrics Metrics

	hot *expirable.LRU[string, *resource.Resource]
	sf  singleflight.Group

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	closed     atomic.Bool
}

// New creates a router over the store and downloader. Non-positive config
// values fall back to defaults; metrics may be nil.
func New(st store.Store, dl *downloader.Downloader, cfg Config, metrics Metrics) *Router {
	if cfg.HotEntries <= 0 {
		cfg.HotEntries = DefaultHotEntries
	}
	if cfg.HotTTL <= 0 {
		cfg.HotTTL = DefaultHotTTL
	}
	if cfg.HotMaxPayload <= 0 {
		cfg.HotMaxPayload = DefaultHotMaxPayload
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		store:      st,
		dl:         dl,
		cfg:        cfg,
		metrics:    metrics,
		hot:        expirable.NewLRU[string, *resource.Resource](cfg.HotEntries, nil, cfg.HotTTL),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Resolve returns the resource for key. A fresh cached copy is returned
// immediately; a stale copy is returned immediately while a background
// revalidation refreshes the store; a miss fetches from originURL at
// ambient priority. Store read failures are treated as misses, never
// surfaced. An empty originURL resolves from cache only.
func (r *Router) Resolve(ctx context.Context, key resource.Key, originURL string) (*resource.Resource, error) {
	now := time.Now()
	keyStr := key.String()

	if res, ok := r.hot.Get(keyStr); ok {
		if res.Fresh(now) {
			r.recordResolve("hot")
			return res.Clone(), nil
		}
		r.hot.Remove(keyStr)
	}

	res, err := r.store.Get(ctx, key)
	switch {
	case err == nil && res.Fresh(now):
		r.keep(keyStr, res)
		r.recordResolve("hit")
		return res, nil
	case err == nil:
		if originURL != "" {
			r.scheduleRevalidation(key, originURL, downloader.Conditional{
				ETag:     res.ETag,
				Modified: res.Modified,
			})
		}
		r.recordResolve("stale")
		return res, nil
	case tverr.IsCode(err, tverr.ErrNotFound):
		r.recordResolve("miss")
	case ctx.Err() != nil:
		return nil, err
	default:
		// Read failures fail open: fetch from the origin instead of
		// surfacing a broken store to the consumer.
		logger.Warn("store read failed, treating as miss",
			logger.KeyResource, keyStr,
			logger.KeyError, err)
		r.recordResolve("fail_open")
	}

	if originURL == "" {
		return nil, tverr.NewNotFoundError(keyStr)
	}

	h := r.dl.Fetch(ctx, downloader.Request{
		Key:      key,
		URL:      originURL,
		Priority: downloader.PriorityAmbient,
	})
	resp, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	r.keep(keyStr, resp.Resource)
	return resp.Resource, nil
}

// Stats reports the hot cache occupancy.
func (r *Router) Stats() Stats {
	return Stats{HotEntries: r.hot.Len()}
}

// InvalidateHot drops every hot entry. Called after cache-wide clears and
// invalidations so the hot layer never outlives the store's answer.
func (r *Router) InvalidateHot() {
	r.hot.Purge()
}

// Close stops background revalidations and waits for them to finish.
func (r *Router) Close() error {
	r.closed.Store(true)
	r.baseCancel()
	r.wg.Wait()
	return nil
}

// keep stores a private copy in the hot cache when the payload is small
// enough. The hot cache owns its copies; Resolve clones on the way out.
func (r *Router) keep(keyStr string, res *resource.Resource) {
	if res == nil || int64(len(res.Payload)) > r.cfg.HotMaxPayload {
		return
	}
	r.hot.Add(keyStr, res.Clone())
}

// scheduleRevalidation refreshes a stale entry in the background.
// Concurrent stale hits for the same key collapse into one conditional
// fetch; the serving path never waits on it.
func (r *Router) scheduleRevalidation(key resource.Key, originURL string, cond downloader.Conditional) {
	if r.closed.Load() {
		return
	}
	keyStr := key.String()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, err, _ := r.sf.Do(keyStr, func() (any, error) {
			// A flight that lost the race to an earlier refresh finds the
			// store fresh and skips the network round trip.
			if cur, err := r.store.Get(r.baseCtx, key); err == nil && cur.Fresh(time.Now()) {
				r.keep(keyStr, cur)
				return nil, nil
			}
			h := r.dl.Fetch(r.baseCtx, downloader.Request{
				Key:         key,
				URL:         originURL,
				Priority:    downloader.PriorityAmbient,
				Conditional: cond,
			})
			resp, err := h.Wait(r.baseCtx)
			if err != nil {
				return nil, err
			}
			r.keep(keyStr, resp.Resource)
			if resp.NotModified {
				r.recordRevalidation("refreshed")
			} else {
				r.recordRevalidation("replaced")
			}
			return nil, nil
		})
		if err != nil && !tverr.IsCode(err, tverr.ErrCanceled) && !errors.Is(err, context.Canceled) {
			r.recordRevalidation("failed")
			logger.Debug("background revalidation failed",
				logger.KeyResource, keyStr,
				logger.KeyError, err)
		}
	}()
}

func (r *Router) recordResolve(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordResolve(outcome)
	}
}

func (r *Router) recordRevalidation(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordRevalidation(outcome)
	}
}
