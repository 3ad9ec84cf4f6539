package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/wayfare-ai/wayfare/pkg/breaker"
	"github.com/wayfare-ai/wayfare/pkg/cache"
	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
	"github.com/wayfare-ai/wayfare/pkg/provider"
	"github.com/wayfare-ai/wayfare/pkg/quota"
	"github.com/wayfare-ai/wayfare/pkg/selector"
	"github.com/wayfare-ai/wayfare/pkg/telemetry"
	"github.com/wayfare-ai/wayfare/pkg/tracker"
	"github.com/wayfare-ai/wayfare/pkg/weights"
)

type fakeAdapter struct {
	name string
	fn   func(ctx context.Context, p models.SearchParams) (models.SearchResult, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Search(ctx context.Context, p models.SearchParams) (models.SearchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, p)
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func offers(n int) func(context.Context, models.SearchParams) (models.SearchResult, error) {
	return func(context.Context, models.SearchParams) (models.SearchResult, error) {
		var r models.SearchResult
		for i := range n {
			r.Offers = append(r.Offers, models.Offer{ID: fmt.Sprintf("o%d", i), Price: 100, Currency: "EUR"})
		}
		return r, nil
	}
}

func failing(err error) func(context.Context, models.SearchParams) (models.SearchResult, error) {
	return func(context.Context, models.SearchParams) (models.SearchResult, error) {
		return models.SearchResult{}, err
	}
}

func flight(dest string) models.SearchParams {
	return models.SearchParams{
		Kind:        models.KindFlight,
		Origin:      "LHR",
		Destination: dest,
		StartDate:   "2025-06-01",
		EndDate:     "2025-06-10",
		Adults:      2,
	}
}

type fixture struct {
	svc      *Service
	weights  *weights.Tracker
	breaker  *breaker.Breaker
	adapters map[string]*fakeAdapter
}

func newFixture(t *testing.T, adapters []*fakeAdapter, opts ...Option) *fixture {
	t.Helper()

	cfg := config.Default()
	reg := provider.NewRegistry()
	byName := make(map[string]*fakeAdapter, len(adapters))
	for _, a := range adapters {
		cfg.Providers = append(cfg.Providers, config.ProviderConfig{
			Name:           a.name,
			CostPerRequest: 0.02,
			Timeout:        time.Second,
		})
		reg.Register(a)
		byName[a.name] = a
	}

	w := weights.New()
	t.Cleanup(w.Close)
	b := breaker.New()
	sel := selector.New(w, selector.WithGate(b), selector.WithSeed(1))

	opts = append([]Option{WithBreaker(b), WithLogger(zaptest.NewLogger(t))}, opts...)
	return &fixture{
		svc:      New(cfg, reg, w, sel, opts...),
		weights:  w,
		breaker:  b,
		adapters: byName,
	}
}

func TestSearchCachesResult(t *testing.T) {
	c := cache.New[models.SearchResult](cache.WithSweepInterval(0))
	defer c.Close()
	f := newFixture(t, []*fakeAdapter{{name: "amadeus", fn: offers(3)}}, WithCache(c))

	resp, err := f.svc.Search(context.Background(), flight("JFK"), models.SelectionCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.CacheHit {
		t.Error("first search should miss")
	}
	if resp.Provider != "amadeus" || resp.Attempts != 1 || len(resp.Result.Offers) != 3 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.RequestID == "" {
		t.Error("expected a request id")
	}

	again, err := f.svc.Search(context.Background(), flight("jfk"), models.SelectionCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	if !again.CacheHit || again.Provider != "amadeus" || again.Attempts != 0 {
		t.Errorf("expected cache hit from amadeus, got %+v", again)
	}
	if again.CacheKey != resp.CacheKey {
		t.Errorf("keys differ: %q vs %q", again.CacheKey, resp.CacheKey)
	}
	if n := f.adapters["amadeus"].Calls(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}

	if n := c.InvalidateByTag(context.Background(), "dest:jfk"); n != 1 {
		t.Errorf("expected dest tag to match 1 entry, got %d", n)
	}
}

func TestSearchSkipsEmptyResultsInCache(t *testing.T) {
	c := cache.New[models.SearchResult](cache.WithSweepInterval(0))
	defer c.Close()
	f := newFixture(t, []*fakeAdapter{{name: "amadeus", fn: offers(0)}}, WithCache(c))

	for range 2 {
		if _, err := f.svc.Search(context.Background(), flight("JFK"), models.SelectionCriteria{}); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.adapters["amadeus"].Calls(); n != 2 {
		t.Errorf("empty results should not be cached, got %d calls", n)
	}
}

func TestSearchFallsBackOnRetryableError(t *testing.T) {
	f := newFixture(t, []*fakeAdapter{
		{name: "sabre", fn: failing(fmt.Errorf("%w: status 503", provider.ErrUpstream))},
		{name: "amadeus", fn: offers(1)},
	})

	for i := range 20 {
		resp, err := f.svc.Search(context.Background(), flight(fmt.Sprintf("dst%d", i)), models.SelectionCriteria{})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Provider != "amadeus" {
			t.Fatalf("expected amadeus, got %s", resp.Provider)
		}
	}

	sabre := f.adapters["sabre"].Calls()
	if sabre == 0 {
		t.Fatal("expected sabre to be tried at least once")
	}
	score, ok := f.weights.Score("sabre")
	if !ok || score.Failures != int64(sabre) {
		t.Errorf("expected %d recorded failures, got %+v", sabre, score)
	}
	if score.Weight >= 100 {
		t.Errorf("failing provider should lose weight, got %v", score.Weight)
	}
}

func TestSearchNonRetryableStops(t *testing.T) {
	bad := errors.New("bad request")
	f := newFixture(t, []*fakeAdapter{{name: "amadeus", fn: failing(bad)}})

	_, err := f.svc.Search(context.Background(), flight("JFK"), models.SelectionCriteria{})
	if !errors.Is(err, ErrAllProvidersFailed) || !errors.Is(err, bad) {
		t.Fatalf("expected all-failed wrapping the adapter error, got %v", err)
	}
	if n := f.adapters["amadeus"].Calls(); n != 1 {
		t.Errorf("expected 1 call, got %d", n)
	}
}

func TestSearchAllProvidersFail(t *testing.T) {
	upstream := fmt.Errorf("%w: status 502", provider.ErrUpstream)
	f := newFixture(t, []*fakeAdapter{
		{name: "sabre", fn: failing(upstream)},
		{name: "amadeus", fn: failing(upstream)},
	})

	_, err := f.svc.Search(context.Background(), flight("JFK"), models.SelectionCriteria{})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	for name, a := range f.adapters {
		if a.Calls() != 1 {
			t.Errorf("%s: expected exactly one attempt, got %d", name, a.Calls())
		}
	}
}

func TestSearchProviderTimeout(t *testing.T) {
	f := newFixture(t, []*fakeAdapter{{name: "slow", fn: func(ctx context.Context, _ models.SearchParams) (models.SearchResult, error) {
		<-ctx.Done()
		return models.SearchResult{}, ctx.Err()
	}}})
	f.svc.cfg.Providers[0].Timeout = 20 * time.Millisecond

	_, err := f.svc.Search(context.Background(), flight("JFK"), models.SelectionCriteria{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSearchNoEligibleProvider(t *testing.T) {
	f := newFixture(t, []*fakeAdapter{{name: "amadeus", fn: offers(1)}})

	_, err := f.svc.Search(context.Background(), flight("JFK"), models.SelectionCriteria{
		MaxCostPerRequest: models.Float(0),
	})
	if !errors.Is(err, ErrNoEligibleProvider) {
		t.Fatalf("expected ErrNoEligibleProvider, got %v", err)
	}
	if n := f.adapters["amadeus"].Calls(); n != 0 {
		t.Errorf("expected no calls, got %d", n)
	}

	empty := newFixture(t, nil)
	if _, err := empty.svc.Search(context.Background(), flight("JFK"), models.SelectionCriteria{}); !errors.Is(err, ErrNoEligibleProvider) {
		t.Fatalf("expected ErrNoEligibleProvider without providers, got %v", err)
	}
}

func TestSearchSkipsOpenCircuit(t *testing.T) {
	f := newFixture(t, []*fakeAdapter{
		{name: "sabre", fn: offers(1)},
		{name: "amadeus", fn: offers(1)},
	})
	for range 5 {
		f.breaker.RecordFailure("sabre")
	}

	for i := range 10 {
		resp, err := f.svc.Search(context.Background(), flight(fmt.Sprintf("dst%d", i)), models.SelectionCriteria{})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Provider != "amadeus" {
			t.Fatalf("open circuit should be skipped, got %s", resp.Provider)
		}
	}
	if n := f.adapters["sabre"].Calls(); n != 0 {
		t.Errorf("expected no calls to sabre, got %d", n)
	}
}

func TestSearchQuotaExhausted(t *testing.T) {
	tr, err := tracker.New(filepath.Join(t.TempDir(), "attempts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	ctx := context.Background()
	if err := tr.Record(ctx, models.Attempt{Provider: "sabre", Kind: models.KindFlight, Success: true}); err != nil {
		t.Fatal(err)
	}
	enf := quota.New([]models.QuotaPolicy{{Provider: "sabre", MaxRequests: 1, Period: models.QuotaDaily}}, tr)

	f := newFixture(t, []*fakeAdapter{
		{name: "sabre", fn: offers(1)},
		{name: "amadeus", fn: offers(1)},
	}, WithTracker(tr), WithEnforcer(enf))

	for i := range 10 {
		resp, err := f.svc.Search(ctx, flight(fmt.Sprintf("dst%d", i)), models.SelectionCriteria{})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Provider != "amadeus" {
			t.Fatalf("exhausted provider selected: %s", resp.Provider)
		}
	}
	if got := f.weights.Lookup("sabre").QuotaUsedPercent; got != 100 {
		t.Errorf("expected sabre quota 100, got %v", got)
	}

	recent, err := tr.Recent(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 11 {
		t.Errorf("expected 11 attempts logged, got %d", len(recent))
	}
}

func TestSearchQuotaSource(t *testing.T) {
	tr, err := tracker.New(filepath.Join(t.TempDir(), "attempts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	ctx := context.Background()
	enf := quota.New([]models.QuotaPolicy{{Provider: "*", MaxRequests: 4, Period: models.QuotaDaily}}, tr)

	silent := newFixture(t, []*fakeAdapter{{name: "amadeus", fn: offers(1)}}, WithTracker(tr), WithEnforcer(enf))
	if _, err := silent.svc.Search(ctx, flight("JFK"), models.SelectionCriteria{}); err != nil {
		t.Fatal(err)
	}
	if got := silent.weights.Lookup("amadeus").QuotaUsedPercent; got != 25 {
		t.Errorf("unreported quota should come from the policy, expected 25, got %v", got)
	}

	reporting := newFixture(t, []*fakeAdapter{{
		name: "sabre",
		fn: func(context.Context, models.SearchParams) (models.SearchResult, error) {
			return models.SearchResult{
				Offers:           []models.Offer{{ID: "s1", Price: 90, Currency: "EUR"}},
				QuotaUsedPercent: models.Float(60),
			}, nil
		},
	}}, WithTracker(tr), WithEnforcer(enf))
	if _, err := reporting.svc.Search(ctx, flight("CDG"), models.SelectionCriteria{}); err != nil {
		t.Fatal(err)
	}
	if got := reporting.weights.Lookup("sabre").QuotaUsedPercent; got != 60 {
		t.Errorf("reported quota should win, expected 60, got %v", got)
	}
}

func TestSearchRecordsMetrics(t *testing.T) {
	m := telemetry.NewMetrics(prometheus.NewRegistry())
	c := cache.New[models.SearchResult](cache.WithSweepInterval(0))
	defer c.Close()
	f := newFixture(t, []*fakeAdapter{{name: "amadeus", fn: offers(2)}}, WithCache(c), WithMetrics(m))

	for range 3 {
		if _, err := f.svc.Search(context.Background(), flight("JFK"), models.SelectionCriteria{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.svc.Search(context.Background(), models.SearchParams{Kind: "cruise"}, models.SelectionCriteria{}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}

	if got := testutil.ToFloat64(m.Searches.WithLabelValues("flight", telemetry.OutcomeMiss)); got != 1 {
		t.Errorf("expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(m.Searches.WithLabelValues("flight", telemetry.OutcomeHit)); got != 2 {
		t.Errorf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProviderRequests.WithLabelValues("amadeus", "success")); got != 1 {
		t.Errorf("expected 1 provider success, got %v", got)
	}
}

func TestTags(t *testing.T) {
	tags := Tags(models.SearchParams{Kind: models.KindHotel, Destination: "São Paulo"})
	if len(tags) != 2 || tags[0] != "kind:hotel" || tags[1] != "dest:saopaulo" {
		t.Errorf("unexpected tags: %v", tags)
	}
}
