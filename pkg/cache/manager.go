// Package cache implements the in-memory search response cache with
// per-kind strategies, priority-aware eviction and an optional persistent
// store behind it.
package cache

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

const (
	defaultMaxMemory     = 64 << 20
	defaultSweepInterval = 5 * time.Minute
	defaultTTL           = 15 * time.Minute
	defaultPriority      = 5
)

type entry[T any] struct {
	value          T
	createdAt      time.Time
	ttl            time.Duration
	accessCount    int64
	lastAccessedAt time.Time
	size           int64
	priority       int
	provider       string
	tags           []string
}

func (e *entry[T]) expired(now time.Time) bool {
	return !now.Before(e.createdAt.Add(e.ttl))
}

// GetOptions tunes a single lookup.
type GetOptions struct {
	// Kind selects the strategy used to rank a value promoted from the store.
	Kind models.SearchKind
	// SkipPersistent limits the lookup to memory.
	SkipPersistent bool
}

// SetOptions tunes a single insertion. Zero values defer to the kind's strategy.
type SetOptions struct {
	Kind     models.SearchKind
	TTL      time.Duration
	Priority int
	Tags     []string
	Provider string
}

// Manager is a size-bounded in-memory cache of search payloads.
// It is safe for concurrent use.
type Manager[T any] struct {
	mu        sync.Mutex
	entries   map[string]*entry[T]
	usedBytes int64

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	lookups     int64
	lookupTime  time.Duration

	maxMemory     int64
	sweepInterval time.Duration
	defaultTTL    time.Duration
	strategies    map[models.SearchKind]Strategy[T]
	store         Store
	clock         clock.Clock
	logger        *zap.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Manager and starts its expiry sweeper.
func New[T any](opts ...Option) *Manager[T] {
	o := options{
		maxMemory:     defaultMaxMemory,
		sweepInterval: defaultSweepInterval,
		defaultTTL:    defaultTTL,
		clock:         clock.New(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager[T]{
		entries:       make(map[string]*entry[T]),
		maxMemory:     o.maxMemory,
		sweepInterval: o.sweepInterval,
		defaultTTL:    o.defaultTTL,
		strategies:    SearchStrategies[T](),
		store:         o.store,
		clock:         o.clock,
		logger:        o.logger,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for kind, s := range o.strategies {
		st, ok := s.(Strategy[T])
		if !ok {
			m.logger.Warn("ignoring cache strategy for a different payload type", zap.String("kind", string(kind)))
			continue
		}
		m.strategies[kind] = st
	}

	m.startSweeper()
	return m
}

// Get returns the live value for key. A miss in memory falls back to the
// persistent store unless opts.SkipPersistent is set.
func (m *Manager[T]) Get(ctx context.Context, key string, opts GetOptions) (T, bool) {
	start := m.clock.Now()
	defer m.observe(start)

	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		now := m.clock.Now()
		if !e.expired(now) {
			e.accessCount++
			e.lastAccessedAt = now
			m.hits++
			v := e.value
			m.mu.Unlock()
			return v, true
		}
		m.removeLocked(key, e)
		m.expirations++
	}
	m.mu.Unlock()

	if m.store != nil && !opts.SkipPersistent {
		if v, ok := m.loadPersistent(ctx, key, opts.Kind); ok {
			m.mu.Lock()
			m.hits++
			m.mu.Unlock()
			return v, true
		}
	}

	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
	var zero T
	return zero, false
}

func (m *Manager[T]) loadPersistent(ctx context.Context, key string, kind models.SearchKind) (T, bool) {
	var v T
	sv, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("persistent cache lookup failed", zap.String("key", key), zap.Error(err))
		return v, false
	}
	if !ok {
		return v, false
	}
	remaining := sv.ExpiresAt.Sub(m.clock.Now())
	if remaining <= 0 {
		return v, false
	}
	if err := json.Unmarshal(sv.Value, &v); err != nil {
		m.logger.Warn("persistent cache value unreadable", zap.String("key", key), zap.Error(err))
		return v, false
	}

	priority := defaultPriority
	if s, ok := m.strategies[kind]; ok {
		priority = s.Priority(key, v)
	}
	size := int64(len(sv.Value) + len(key))
	if m.maxMemory > 0 && size > m.maxMemory {
		return v, true
	}

	now := m.clock.Now()
	m.mu.Lock()
	m.insertLocked(key, &entry[T]{
		value:          v,
		createdAt:      now,
		ttl:            remaining,
		lastAccessedAt: now,
		accessCount:    1,
		size:           size,
		priority:       clampPriority(priority),
		provider:       sv.Provider,
		tags:           slices.Clone(sv.Tags),
	})
	m.mu.Unlock()
	return v, true
}

// Set stores v under key if its strategy considers it cacheable. Failures are
// logged and otherwise ignored.
func (m *Manager[T]) Set(ctx context.Context, key string, v T, opts SetOptions) {
	s, hasStrategy := m.strategies[opts.Kind]
	if hasStrategy {
		if !s.ShouldCache(key, v) {
			m.logger.Debug("value not cacheable", zap.String("key", key))
			return
		}
	} else if !cacheable(v) {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("cache value not serializable", zap.String("key", key), zap.Error(err))
		return
	}

	ttl := opts.TTL
	if ttl <= 0 && hasStrategy {
		ttl = s.TTL(key, v)
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	priority := opts.Priority
	if priority == 0 && hasStrategy {
		priority = s.Priority(key, v)
	}
	if priority == 0 {
		priority = defaultPriority
	}

	size := int64(len(data) + len(key))
	if m.maxMemory > 0 && size > m.maxMemory {
		m.logger.Warn("cache value exceeds memory ceiling",
			zap.String("key", key),
			zap.Int64("size_bytes", size),
			zap.Int64("max_memory_bytes", m.maxMemory),
		)
		return
	}

	now := m.clock.Now()
	m.mu.Lock()
	evicted := m.insertLocked(key, &entry[T]{
		value:          v,
		createdAt:      now,
		ttl:            ttl,
		lastAccessedAt: now,
		size:           size,
		priority:       clampPriority(priority),
		provider:       opts.Provider,
		tags:           slices.Clone(opts.Tags),
	})
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Debug("evicted cache entries", zap.Int("count", evicted))
	}

	if m.store != nil {
		labels := models.CacheLabels{Provider: opts.Provider, Tags: slices.Clone(opts.Tags)}
		if err := m.store.Put(ctx, key, data, ttl, labels); err != nil {
			m.logger.Warn("persistent cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// insertLocked replaces any entry under key, evicts until e fits and stores
// it. It returns the number of evicted entries.
func (m *Manager[T]) insertLocked(key string, e *entry[T]) int {
	if old, ok := m.entries[key]; ok {
		m.removeLocked(key, old)
	}

	evicted := 0
	if m.maxMemory > 0 && m.usedBytes+e.size > m.maxMemory {
		type victim struct {
			key string
			e   *entry[T]
		}
		victims := make([]victim, 0, len(m.entries))
		for k, v := range m.entries {
			victims = append(victims, victim{k, v})
		}
		slices.SortFunc(victims, func(a, b victim) int {
			if c := cmp.Compare(a.e.priority, b.e.priority); c != 0 {
				return c
			}
			return a.e.lastAccessedAt.Compare(b.e.lastAccessedAt)
		})
		for _, v := range victims {
			if m.usedBytes+e.size <= m.maxMemory {
				break
			}
			m.removeLocked(v.key, v.e)
			m.evictions++
			evicted++
		}
	}

	m.entries[key] = e
	m.usedBytes += e.size
	return evicted
}

func (m *Manager[T]) removeLocked(key string, e *entry[T]) {
	delete(m.entries, key)
	m.usedBytes -= e.size
}

// InvalidateByTag removes every entry carrying tag, in memory and in the
// persistent store, and returns how many distinct keys were removed.
func (m *Manager[T]) InvalidateByTag(ctx context.Context, tag string) int {
	return m.invalidate(ctx,
		func(e *entry[T]) bool { return slices.Contains(e.tags, tag) },
		func(s Store) ([]string, error) { return s.DeleteByTag(ctx, tag) },
	)
}

// InvalidateByProvider removes every entry attributed to provider.
func (m *Manager[T]) InvalidateByProvider(ctx context.Context, provider string) int {
	return m.invalidate(ctx,
		func(e *entry[T]) bool { return e.provider == provider },
		func(s Store) ([]string, error) { return s.DeleteByProvider(ctx, provider) },
	)
}

// invalidate purges the store before memory so a concurrent Get cannot
// promote a copy that is about to be removed.
func (m *Manager[T]) invalidate(ctx context.Context, match func(*entry[T]) bool, purge func(Store) ([]string, error)) int {
	removed := make(map[string]struct{})
	var purged []string
	if m.store != nil {
		keys, err := purge(m.store)
		if err != nil {
			m.logger.Warn("persistent cache invalidation failed", zap.Error(err))
		}
		purged = keys
		for _, k := range keys {
			removed[k] = struct{}{}
		}
	}

	var memKeys []string
	m.mu.Lock()
	for k, e := range m.entries {
		if match(e) {
			m.removeLocked(k, e)
			m.evictions++
			memKeys = append(memKeys, k)
			removed[k] = struct{}{}
		}
	}
	m.mu.Unlock()

	// Rows saved without labels are not matched by the store itself.
	m.deletePersistent(ctx, slices.DeleteFunc(memKeys, func(k string) bool {
		return slices.Contains(purged, k)
	}))
	return len(removed)
}

// Delete removes key from memory and from the persistent store.
func (m *Manager[T]) Delete(ctx context.Context, key string) bool {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok {
		m.removeLocked(key, e)
		m.evictions++
	}
	m.mu.Unlock()

	m.deletePersistent(ctx, []string{key})
	return ok
}

func (m *Manager[T]) deletePersistent(ctx context.Context, keys []string) {
	if m.store == nil {
		return
	}
	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil {
			m.logger.Warn("persistent cache delete failed", zap.String("key", k), zap.Error(err))
		}
	}
}

// Clear drops every in-memory entry. The persistent store is left alone.
func (m *Manager[T]) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]*entry[T])
	m.usedBytes = 0
	m.mu.Unlock()
}

// Sweep removes expired entries and returns how many were removed.
func (m *Manager[T]) Sweep() int {
	now := m.clock.Now()
	removed := 0
	m.mu.Lock()
	for k, e := range m.entries {
		if e.expired(now) {
			m.removeLocked(k, e)
			removed++
		}
	}
	m.expirations += int64(removed)
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Debug("swept expired cache entries", zap.Int("count", removed))
	}
	return removed
}

// Metrics returns a snapshot of cache performance counters.
func (m *Manager[T]) Metrics() models.CacheMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := models.CacheMetrics{
		Hits:             m.hits,
		Misses:           m.misses,
		Evictions:        m.evictions,
		Expirations:      m.expirations,
		Entries:          len(m.entries),
		MemoryUsageBytes: m.usedBytes,
	}
	if total := m.hits + m.misses; total > 0 {
		out.HitRatePercent = float64(m.hits) / float64(total) * 100
	}
	if m.lookups > 0 {
		out.AvgResponseTimeMillis = float64(m.lookupTime) / float64(m.lookups) / float64(time.Millisecond)
	}
	return out
}

// Entries returns metadata for every live entry, ordered by key.
func (m *Manager[T]) Entries() []models.CacheEntryInfo {
	now := m.clock.Now()
	m.mu.Lock()
	out := make([]models.CacheEntryInfo, 0, len(m.entries))
	for k, e := range m.entries {
		if e.expired(now) {
			continue
		}
		out = append(out, models.CacheEntryInfo{
			Key:            k,
			CreatedAt:      e.createdAt,
			TTL:            e.ttl,
			AccessCount:    e.accessCount,
			LastAccessedAt: e.lastAccessedAt,
			SizeBytes:      e.size,
			Priority:       e.priority,
			Provider:       e.provider,
			Tags:           slices.Clone(e.tags),
		})
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b models.CacheEntryInfo) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// Close stops the sweeper. It does not close the persistent store.
func (m *Manager[T]) Close() {
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
}

func (m *Manager[T]) observe(start time.Time) {
	elapsed := m.clock.Since(start)
	m.mu.Lock()
	m.lookups++
	m.lookupTime += elapsed
	m.mu.Unlock()
}

func clampPriority(p int) int {
	return min(max(p, 1), 10)
}
