// Package cache bounds the ambient half of the resource store.
//
// Every resource not linked to an offline region is ambient: it lives in the
// store on a best-effort basis and is evicted least-recently-used once the
// total ambient size exceeds the configured maximum. Region-linked resources
// are pinned; they never count against the budget and are never evicted.
//
// Eviction is triggered after every write that grows the ambient set, and
// explicitly via SetMaximumSize and Clear.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tilevault/tilevault/internal/logger"
	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/tverr"
)

// DefaultMaxSize is the ambient budget applied when none is configured.
const DefaultMaxSize int64 = 50 * 1024 * 1024 // 50 MiB

// Metrics provides observability for ambient cache management.
//
// Implementations are optional. A nil Metrics disables collection with no
// overhead at the call sites.
type Metrics interface {
	// RecordAmbientSize records the total ambient size after a pass.
	RecordAmbientSize(bytes int64)

	// RecordEviction records one eviction pass and the bytes it freed.
	RecordEviction(freedBytes int64)

	// RecordClear records an explicit purge and the bytes it freed.
	RecordClear(freedBytes int64)
}

// Manager enforces the ambient size budget over a store.
//
// Eviction passes are serialized: concurrent EnsureCapacity calls queue
// behind one another instead of racing over the same candidates, and the
// later passes become cheap no-ops once the first one frees enough.
type Manager struct {
	store   store.Store
	metrics Metrics

	maxSize atomic.Int64

	mu sync.Mutex // serializes eviction passes
}

// NewManager creates a Manager enforcing maxSize bytes of ambient storage.
// A maxSize of zero or below falls back to DefaultMaxSize. metrics may be
// nil.
func NewManager(st store.Store, maxSize int64, metrics Metrics) *Manager {
	m := &Manager{store: st, metrics: metrics}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	m.maxSize.Store(maxSize)
	return m
}

// MaximumSize returns the current ambient budget in bytes.
func (m *Manager) MaximumSize() int64 {
	return m.maxSize.Load()
}

// SetMaximumSize updates the ambient budget and immediately runs an eviction
// pass against the new bound, so shrinking the budget takes effect without
// waiting for the next write.
func (m *Manager) SetMaximumSize(ctx context.Context, bytes int64) error {
	if bytes <= 0 {
		return tverr.NewInvalidArgumentError("maximum cache size must be positive")
	}
	m.maxSize.Store(bytes)
	logger.Info("ambient cache budget updated", logger.KeyAmbientLimit, bytes)
	return m.EnsureCapacity(ctx)
}

// EnsureCapacity evicts least-recently-used ambient entries until the store
// is back under budget.
//
// When every resident resource is region-linked the store stays over budget;
// that is not an error. Pinned data is never evicted.
func (m *Manager) EnsureCapacity(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	max := m.maxSize.Load()

	size, err := m.store.TotalAmbientSize(ctx)
	if err != nil {
		return err
	}
	if size <= max {
		m.recordSize(size)
		return nil
	}

	freed, err := m.store.EvictLRU(ctx, max)
	if err != nil {
		return err
	}
	if freed > 0 {
		logger.Debug("evicted ambient entries",
			logger.KeyFreedBytes, freed,
			logger.KeyAmbientSize, size-freed,
			logger.KeyAmbientLimit, max)
		if m.metrics != nil {
			m.metrics.RecordEviction(freed)
		}
	}
	m.recordSize(size - freed)
	return nil
}

// Clear purges every ambient entry regardless of recency and returns the
// bytes freed. Region-linked resources are untouched.
func (m *Manager) Clear(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	freed, err := m.store.ClearAmbient(ctx)
	if err != nil {
		return 0, err
	}
	logger.Info("ambient cache cleared", logger.KeyFreedBytes, freed)
	if m.metrics != nil {
		m.metrics.RecordClear(freed)
	}
	m.recordSize(0)
	return freed, nil
}

// Invalidate marks every ambient entry as expired. Payloads and validators
// stay in place, so the next use revalidates with a conditional request
// instead of refetching the body.
func (m *Manager) Invalidate(ctx context.Context) error {
	return m.store.InvalidateAmbient(ctx)
}

// Size returns the current total ambient size in bytes.
func (m *Manager) Size(ctx context.Context) (int64, error) {
	return m.store.TotalAmbientSize(ctx)
}

func (m *Manager) recordSize(bytes int64) {
	if m.metrics != nil {
		m.metrics.RecordAmbientSize(bytes)
	}
}
