package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

type memStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	data    map[string]models.StoredValue
	failGet bool
	deletes int
}

func newMemStore(c clock.Clock) *memStore {
	return &memStore{clock: c, data: make(map[string]models.StoredValue)}
}

func (s *memStore) Get(_ context.Context, key string) (models.StoredValue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return models.StoredValue{}, false, errors.New("store unavailable")
	}
	v, ok := s.data[key]
	if !ok || !s.clock.Now().Before(v.ExpiresAt) {
		return models.StoredValue{}, false, nil
	}
	return v, true, nil
}

func (s *memStore) Put(_ context.Context, key string, value []byte, ttl time.Duration, labels models.CacheLabels) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = models.StoredValue{Value: value, ExpiresAt: s.clock.Now().Add(ttl), CacheLabels: labels}
	return nil
}

func (s *memStore) DeleteByTag(_ context.Context, tag string) ([]string, error) {
	return s.deleteWhere(func(v models.StoredValue) bool { return slices.Contains(v.Tags, tag) }), nil
}

func (s *memStore) DeleteByProvider(_ context.Context, provider string) ([]string, error) {
	return s.deleteWhere(func(v models.StoredValue) bool { return v.Provider == provider }), nil
}

func (s *memStore) deleteWhere(match func(models.StoredValue) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, v := range s.data {
		if match(v) {
			delete(s.data, k)
			keys = append(keys, k)
		}
	}
	return keys
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	s.deletes++
	return nil
}

func (s *memStore) Stats(context.Context) (models.CacheStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CacheStats{Entries: int64(len(s.data))}, nil
}

func (s *memStore) Clear(context.Context, bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]models.StoredValue)
	return nil
}

func (s *memStore) Close() error { return nil }

func newTestManager[T any](t *testing.T, mock *clock.Mock, opts ...Option) *Manager[T] {
	t.Helper()
	base := []Option{
		WithClock(mock),
		WithSweepInterval(0),
		WithLogger(zaptest.NewLogger(t)),
	}
	m := New[T](append(base, opts...)...)
	t.Cleanup(m.Close)
	return m
}

func offers(n int) models.SearchResult {
	r := models.SearchResult{Provider: "amadeus"}
	for i := 0; i < n; i++ {
		r.Offers = append(r.Offers, models.Offer{ID: fmt.Sprintf("o%d", i), Price: 100})
	}
	return r
}

func TestGetFreshness(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	m := newTestManager[models.SearchResult](t, mock)

	m.Set(ctx, "flight-lhr-jfk", offers(2), SetOptions{Kind: models.KindFlight})

	mock.Add(10*time.Minute - time.Second)
	got, ok := m.Get(ctx, "flight-lhr-jfk", GetOptions{})
	if !ok {
		t.Fatal("expected hit before TTL elapsed")
	}
	if got.Count() != 2 {
		t.Errorf("expected 2 offers, got %d", got.Count())
	}

	mock.Add(time.Second)
	if _, ok := m.Get(ctx, "flight-lhr-jfk", GetOptions{}); ok {
		t.Fatal("expected miss once TTL elapsed")
	}

	metrics := m.Metrics()
	if metrics.Hits != 1 || metrics.Misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %+v", metrics)
	}
	if metrics.Expirations != 1 {
		t.Errorf("expected lazy expiry to count, got %d", metrics.Expirations)
	}
	if metrics.Entries != 0 || metrics.MemoryUsageBytes != 0 {
		t.Errorf("expired entry should be released, got %+v", metrics)
	}
	if metrics.HitRatePercent != 50 {
		t.Errorf("expected 50%% hit rate, got %v", metrics.HitRatePercent)
	}
}

func TestGetUpdatesAccessMetadata(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	m := newTestManager[models.SearchResult](t, mock)

	m.Set(ctx, "k", offers(1), SetOptions{Kind: models.KindHotel})
	mock.Add(time.Minute)
	m.Get(ctx, "k", GetOptions{})
	m.Get(ctx, "k", GetOptions{})

	entries := m.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", entries[0].AccessCount)
	}
	if !entries[0].LastAccessedAt.Equal(mock.Now()) {
		t.Errorf("expected last access %v, got %v", mock.Now(), entries[0].LastAccessedAt)
	}
	if entries[0].TTL != 30*time.Minute {
		t.Errorf("expected hotel TTL 30m, got %v", entries[0].TTL)
	}
}

func TestStrategies(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	m := newTestManager[models.SearchResult](t, mock)

	m.Set(ctx, "empty", offers(0), SetOptions{Kind: models.KindFlight})
	if _, ok := m.Get(ctx, "empty", GetOptions{}); ok {
		t.Error("empty result sets should not be cached")
	}

	m.Set(ctx, "rich-flight", offers(11), SetOptions{Kind: models.KindFlight})
	m.Set(ctx, "thin-flight", offers(3), SetOptions{Kind: models.KindFlight})
	m.Set(ctx, "activity", offers(1), SetOptions{Kind: models.KindActivity})
	m.Set(ctx, "override", offers(1), SetOptions{Kind: models.KindFlight, TTL: time.Minute, Priority: 42})

	want := map[string]struct {
		priority int
		ttl      time.Duration
	}{
		"activity":    {6, 2 * time.Hour},
		"override":    {10, time.Minute},
		"rich-flight": {8, 10 * time.Minute},
		"thin-flight": {5, 10 * time.Minute},
	}
	entries := m.Entries()
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for _, e := range entries {
		w := want[e.Key]
		if e.Priority != w.priority || e.TTL != w.ttl {
			t.Errorf("%s: expected priority %d ttl %v, got %d %v", e.Key, w.priority, w.ttl, e.Priority, e.TTL)
		}
	}
}

func TestCustomStrategy(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	m := newTestManager[models.SearchResult](t, mock,
		WithStrategy[models.SearchResult](models.KindHotel, CountStrategy[models.SearchResult]{Lifetime: time.Hour, Base: 2}),
		WithStrategy[string](models.KindFlight, CountStrategy[string]{Lifetime: time.Second}),
	)

	m.Set(ctx, "h", offers(1), SetOptions{Kind: models.KindHotel})
	m.Set(ctx, "f", offers(1), SetOptions{Kind: models.KindFlight})

	for _, e := range m.Entries() {
		switch e.Key {
		case "h":
			if e.TTL != time.Hour || e.Priority != 2 {
				t.Errorf("custom hotel strategy not applied: %+v", e)
			}
		case "f":
			if e.TTL != 10*time.Minute {
				t.Errorf("mismatched strategy should be ignored, got TTL %v", e.TTL)
			}
		}
	}
}

func TestEvictionOrdering(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	// "k1" + `"aaaa"` is 8 bytes, so three entries fit.
	m := newTestManager[string](t, mock, WithMaxMemory(24))

	m.Set(ctx, "k1", "aaaa", SetOptions{})
	mock.Add(time.Second)
	m.Set(ctx, "k2", "aaaa", SetOptions{})
	mock.Add(time.Second)
	m.Set(ctx, "k3", "aaaa", SetOptions{Priority: 9})
	mock.Add(time.Second)
	if _, ok := m.Get(ctx, "k1", GetOptions{}); !ok {
		t.Fatal("expected k1 hit")
	}
	mock.Add(time.Second)

	m.Set(ctx, "k4", "aaaa", SetOptions{})
	if _, ok := m.Get(ctx, "k2", GetOptions{}); ok {
		t.Error("k2 has the lowest (priority, lastAccessedAt) and should be evicted first")
	}
	mock.Add(time.Second)

	m.Set(ctx, "k5", "aaaa", SetOptions{})
	if _, ok := m.Get(ctx, "k1", GetOptions{}); ok {
		t.Error("k1 should be evicted before the more recently used k4")
	}
	for _, k := range []string{"k3", "k4", "k5"} {
		if _, ok := m.Get(ctx, k, GetOptions{}); !ok {
			t.Errorf("expected %s to survive", k)
		}
	}

	metrics := m.Metrics()
	if metrics.Evictions != 2 {
		t.Errorf("expected 2 evictions, got %d", metrics.Evictions)
	}
	if metrics.MemoryUsageBytes != 24 {
		t.Errorf("expected 24 bytes used, got %d", metrics.MemoryUsageBytes)
	}
}

func TestOversizedValueSkipped(t *testing.T) {
	ctx := context.Background()
	m := newTestManager[string](t, clock.NewMock(), WithMaxMemory(8))

	m.Set(ctx, "small", "a", SetOptions{})
	m.Set(ctx, "big", "this does not fit", SetOptions{})

	if _, ok := m.Get(ctx, "big", GetOptions{}); ok {
		t.Error("value larger than the ceiling should not be cached")
	}
	if _, ok := m.Get(ctx, "small", GetOptions{}); !ok {
		t.Error("existing entry should not be evicted for a value that can never fit")
	}
}

func TestSetUnserializableIsNoop(t *testing.T) {
	ctx := context.Background()
	m := newTestManager[map[string]any](t, clock.NewMock())

	m.Set(ctx, "bad", map[string]any{"fn": func() {}}, SetOptions{})

	if _, ok := m.Get(ctx, "bad", GetOptions{}); ok {
		t.Error("unserializable value should not be cached")
	}
	if n := m.Metrics().Entries; n != 0 {
		t.Errorf("expected no entries, got %d", n)
	}
}

func TestInvalidateIdempotent(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	store := newMemStore(mock)
	m := newTestManager[models.SearchResult](t, mock, WithStore(store))

	m.Set(ctx, "a", offers(1), SetOptions{Kind: models.KindHotel, Tags: []string{"dest:paris"}, Provider: "hotelbeds"})
	m.Set(ctx, "b", offers(1), SetOptions{Kind: models.KindHotel, Tags: []string{"dest:paris"}, Provider: "amadeus"})
	m.Set(ctx, "c", offers(1), SetOptions{Kind: models.KindHotel, Tags: []string{"dest:rome"}, Provider: "hotelbeds"})

	if n := m.InvalidateByTag(ctx, "dest:paris"); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	first := m.Metrics()
	if n := m.InvalidateByTag(ctx, "dest:paris"); n != 0 {
		t.Fatalf("second invalidation should remove nothing, got %d", n)
	}
	second := m.Metrics()
	if first.Evictions != 2 || second.Evictions != first.Evictions || second.Entries != first.Entries {
		t.Errorf("second invalidation changed state: %+v -> %+v", first, second)
	}
	if _, ok := store.data["a"]; ok {
		t.Error("invalidation should also remove the persistent copy")
	}

	if n := m.InvalidateByProvider(ctx, "hotelbeds"); n != 1 {
		t.Errorf("expected 1 removed by provider, got %d", n)
	}
	if n := m.Metrics().Entries; n != 0 {
		t.Errorf("expected empty cache, got %d entries", n)
	}
}

func TestInvalidateReachesPersistedEntries(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	store := newMemStore(mock)
	m := newTestManager[models.SearchResult](t, mock, WithStore(store))

	m.Set(ctx, "hotel-paris", offers(1), SetOptions{Kind: models.KindHotel, Tags: []string{"dest:paris"}, Provider: "amadeus"})
	m.Set(ctx, "hotel-rome", offers(1), SetOptions{Kind: models.KindHotel, Tags: []string{"dest:rome"}, Provider: "amadeus"})
	m.Clear()

	if _, ok := m.Get(ctx, "hotel-paris", GetOptions{Kind: models.KindHotel}); !ok {
		t.Fatal("expected the persisted copy to be promoted")
	}
	entries := m.Entries()
	if len(entries) != 1 || entries[0].Provider != "amadeus" || !slices.Equal(entries[0].Tags, []string{"dest:paris"}) {
		t.Fatalf("promoted entry lost its labels: %+v", entries)
	}

	// One key is in memory and in the store, the other only in the store.
	if n := m.InvalidateByProvider(ctx, "amadeus"); n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	for _, key := range []string{"hotel-paris", "hotel-rome"} {
		if _, ok := m.Get(ctx, key, GetOptions{Kind: models.KindHotel}); ok {
			t.Errorf("%s still served after invalidation", key)
		}
	}
	if n := m.InvalidateByProvider(ctx, "amadeus"); n != 0 {
		t.Errorf("second invalidation should remove nothing, got %d", n)
	}

	m.Set(ctx, "hotel-paris", offers(1), SetOptions{Kind: models.KindHotel, Tags: []string{"dest:paris"}, Provider: "hotelbeds"})
	other := newTestManager[models.SearchResult](t, mock, WithStore(store))
	if n := other.InvalidateByTag(ctx, "dest:paris"); n != 1 {
		t.Errorf("expected 1 removed through a fresh manager, got %d", n)
	}
	if _, ok := other.Get(ctx, "hotel-paris", GetOptions{Kind: models.KindHotel}); ok {
		t.Error("invalidated entry still served from the persistent store")
	}
	if len(store.data) != 0 {
		t.Errorf("expected empty store, got %d entries", len(store.data))
	}
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	m := newTestManager[string](t, clock.NewMock())

	m.Set(ctx, "a", "x", SetOptions{})
	m.Set(ctx, "b", "y", SetOptions{})

	if !m.Delete(ctx, "a") {
		t.Error("expected delete to report removal")
	}
	if m.Delete(ctx, "a") {
		t.Error("second delete should report nothing removed")
	}

	m.Clear()
	metrics := m.Metrics()
	if metrics.Entries != 0 || metrics.MemoryUsageBytes != 0 {
		t.Errorf("expected empty cache after clear, got %+v", metrics)
	}
}

func TestPersistentFallback(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	store := newMemStore(mock)

	writer := newTestManager[models.SearchResult](t, mock, WithStore(store))
	writer.Set(ctx, "flight-key", offers(2), SetOptions{Kind: models.KindFlight})
	if len(store.data) != 1 {
		t.Fatalf("expected write-through, store has %d entries", len(store.data))
	}

	mock.Add(4 * time.Minute)

	reader := newTestManager[models.SearchResult](t, mock, WithStore(store))
	if _, ok := reader.Get(ctx, "flight-key", GetOptions{Kind: models.KindFlight, SkipPersistent: true}); ok {
		t.Fatal("memory-only lookup should miss")
	}
	got, ok := reader.Get(ctx, "flight-key", GetOptions{Kind: models.KindFlight})
	if !ok {
		t.Fatal("expected persistent hit")
	}
	if got.Count() != 2 {
		t.Errorf("expected 2 offers, got %d", got.Count())
	}

	entries := reader.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected promoted entry, got %d", len(entries))
	}
	if entries[0].TTL != 6*time.Minute {
		t.Errorf("promoted entry should keep the remaining TTL, got %v", entries[0].TTL)
	}

	mock.Add(6 * time.Minute)
	if _, ok := reader.Get(ctx, "flight-key", GetOptions{Kind: models.KindFlight}); ok {
		t.Error("expected miss after the persistent copy expired")
	}

	metrics := reader.Metrics()
	if metrics.Hits != 1 || metrics.Misses != 2 {
		t.Errorf("expected 1 hit and 2 misses, got %+v", metrics)
	}
}

func TestPersistentErrorDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	store := newMemStore(mock)
	store.failGet = true
	m := newTestManager[models.SearchResult](t, mock, WithStore(store))

	if _, ok := m.Get(ctx, "anything", GetOptions{}); ok {
		t.Fatal("expected miss when the store fails")
	}
	if m.Metrics().Misses != 1 {
		t.Error("store failure should count as a miss")
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	m := newTestManager[models.SearchResult](t, mock)

	m.Set(ctx, "flight", offers(1), SetOptions{Kind: models.KindFlight})
	m.Set(ctx, "activity", offers(1), SetOptions{Kind: models.KindActivity})

	mock.Add(15 * time.Minute)
	if n := m.Sweep(); n != 1 {
		t.Errorf("expected 1 swept entry, got %d", n)
	}
	if n := m.Sweep(); n != 0 {
		t.Errorf("expected nothing left to sweep, got %d", n)
	}
	metrics := m.Metrics()
	if metrics.Entries != 1 || metrics.Expirations != 1 {
		t.Errorf("unexpected metrics after sweep: %+v", metrics)
	}
}

func TestSweeperRunsOnTicker(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	m := New[string](WithClock(mock), WithSweepInterval(time.Minute), WithDefaultTTL(30*time.Second))
	defer m.Close()

	m.Set(ctx, "k", "v", SetOptions{})
	mock.Add(time.Minute)

	deadline := time.Now().Add(time.Second)
	for m.Metrics().Entries != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseIdempotent(t *testing.T) {
	m := New[string](WithClock(clock.NewMock()), WithSweepInterval(time.Minute))
	m.Close()
	m.Close()
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := newTestManager[string](t, clock.NewMock(), WithMaxMemory(512))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", (i*j)%32)
				m.Set(ctx, key, "value", SetOptions{Tags: []string{"t"}})
				m.Get(ctx, key, GetOptions{})
				if j%50 == 0 {
					m.InvalidateByTag(ctx, "t")
				}
			}
		}(i)
	}
	wg.Wait()

	if used := m.Metrics().MemoryUsageBytes; used > 512 {
		t.Errorf("memory ceiling exceeded: %d", used)
	}
}
