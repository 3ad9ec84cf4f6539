// Package search serves travel searches from the response cache or, on a
// miss, from a weighted choice of upstream providers.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/breaker"
	"github.com/wayfare-ai/wayfare/pkg/cache"
	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
	"github.com/wayfare-ai/wayfare/pkg/provider"
	"github.com/wayfare-ai/wayfare/pkg/quota"
	"github.com/wayfare-ai/wayfare/pkg/router"
	"github.com/wayfare-ai/wayfare/pkg/selector"
	"github.com/wayfare-ai/wayfare/pkg/telemetry"
	"github.com/wayfare-ai/wayfare/pkg/tracker"
	"github.com/wayfare-ai/wayfare/pkg/weights"
)

var (
	// ErrInvalidParams is returned for malformed search parameters.
	ErrInvalidParams = errors.New("invalid search parameters")
	// ErrNoEligibleProvider is returned when no provider passes selection.
	ErrNoEligibleProvider = errors.New("no eligible provider")
	// ErrAllProvidersFailed is returned when every attempted provider failed.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

const defaultProviderTimeout = 10 * time.Second

// Service runs searches. It is safe for concurrent use.
type Service struct {
	cfg      *config.Config
	router   *router.Router
	registry *provider.Registry
	weights  *weights.Tracker
	selector *selector.Selector

	cache    *cache.Manager[models.SearchResult]
	breaker  *breaker.Breaker
	tracker  tracker.Tracker
	enforcer *quota.Enforcer
	metrics  *telemetry.Metrics
	clock    clock.Clock
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the response cache.
func WithCache(c *cache.Manager[models.SearchResult]) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithBreaker records call outcomes on b. The selector should gate on the same breaker.
func WithBreaker(b *breaker.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

// WithTracker logs every provider attempt.
func WithTracker(t tracker.Tracker) Option {
	return func(s *Service) {
		s.tracker = t
	}
}

// WithEnforcer feeds quota policy usage into provider scores.
func WithEnforcer(e *quota.Enforcer) Option {
	return func(s *Service) {
		s.enforcer = e
	}
}

// WithMetrics records search and provider call metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock sets the clock used for latency measurement.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a Service.
func New(cfg *config.Config, registry *provider.Registry, w *weights.Tracker, sel *selector.Selector, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		router:   router.New(cfg),
		registry: registry,
		weights:  w,
		selector: sel,
		clock:    clock.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the response cache, or nil when caching is disabled.
func (s *Service) Cache() *cache.Manager[models.SearchResult] { return s.cache }

// Weights returns the provider weight tracker.
func (s *Service) Weights() *weights.Tracker { return s.weights }

// Breaker returns the circuit breaker, or nil.
func (s *Service) Breaker() *breaker.Breaker { return s.breaker }

// Providers returns the configured provider names in config order.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.Providers {
		names = append(names, p.Name)
	}
	return names
}

// Search answers params from the cache or from up to selection.max_attempts
// providers, tried one at a time until one succeeds.
func (s *Service) Search(ctx context.Context, params models.SearchParams, criteria models.SelectionCriteria) (*models.SearchResponse, error) {
	start := s.clock.Now()

	if err := Validate(params); err != nil {
		s.metrics.RecordSearch(params.Kind, telemetry.OutcomeError, s.clock.Since(start))
		return nil, err
	}

	resp := &models.SearchResponse{
		RequestID: uuid.NewString(),
		CacheKey:  cache.Key(params),
	}
	log := s.logger.With(zap.String("request_id", resp.RequestID), zap.String("cache_key", resp.CacheKey))

	if s.cache != nil {
		if result, ok := s.cache.Get(ctx, resp.CacheKey, cache.GetOptions{Kind: params.Kind}); ok {
			resp.CacheHit = true
			resp.Provider = result.Provider
			resp.Result = result
			resp.Elapsed = s.clock.Since(start)
			s.metrics.RecordSearch(params.Kind, telemetry.OutcomeHit, resp.Elapsed)
			log.Debug("cache hit")
			return resp, nil
		}
	}

	candidates, err := s.candidates(params.Kind)
	if err != nil {
		s.metrics.RecordSearch(params.Kind, telemetry.OutcomeNoProvider, s.clock.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrNoEligibleProvider, err)
	}
	s.refreshQuota(ctx, candidates)

	maxAttempts := max(s.cfg.Selection.MaxAttempts, 1)
	var lastErr error
	for resp.Attempts < maxAttempts {
		name, ok := s.selector.Select(candidates, criteria)
		if !ok {
			break
		}
		candidates = slices.DeleteFunc(candidates, func(c string) bool { return c == name })
		resp.Attempts++

		result, err := s.invoke(ctx, name, params, resp)
		if err == nil {
			resp.Provider = name
			resp.Result = result
			s.store(ctx, resp.CacheKey, params, result)
			resp.Elapsed = s.clock.Since(start)
			s.metrics.RecordSearch(params.Kind, telemetry.OutcomeMiss, resp.Elapsed)
			log.Debug("search served",
				zap.String("provider", name),
				zap.Int("attempts", resp.Attempts),
				zap.Int("offers", len(result.Offers)),
			)
			return resp, nil
		}

		lastErr = err
		log.Warn("provider search failed",
			zap.String("provider", name),
			zap.Int("attempt", resp.Attempts),
			zap.Error(err),
		)
		if !provider.Retryable(err) || ctx.Err() != nil {
			break
		}
	}

	if resp.Attempts == 0 {
		s.metrics.RecordSearch(params.Kind, telemetry.OutcomeNoProvider, s.clock.Since(start))
		return nil, ErrNoEligibleProvider
	}
	s.metrics.RecordSearch(params.Kind, telemetry.OutcomeError, s.clock.Since(start))
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrAllProvidersFailed, resp.Attempts, lastErr)
}

// candidates returns the routed providers that have a registered adapter.
func (s *Service) candidates(kind models.SearchKind) ([]string, error) {
	names, err := s.router.Resolve(kind)
	if err != nil {
		return nil, err
	}
	names = slices.DeleteFunc(names, func(n string) bool {
		_, ok := s.registry.Get(n)
		return !ok
	})
	if len(names) == 0 {
		return nil, router.ErrNoProviders
	}
	return names, nil
}

// refreshQuota copies quota policy usage into the provider scores so that
// exhausted providers fall out of selection until their period resets.
func (s *Service) refreshQuota(ctx context.Context, names []string) {
	if s.enforcer == nil {
		return
	}
	for _, name := range names {
		pct, err := s.enforcer.UsedPercent(ctx, name)
		if err != nil {
			s.logger.Warn("quota lookup failed", zap.String("provider", name), zap.Error(err))
			continue
		}
		if pct >= 0 {
			s.weights.SetQuota(name, pct)
		}
	}
}

// invoke calls one provider and feeds the outcome back into the breaker,
// weights, attempt log and metrics.
func (s *Service) invoke(ctx context.Context, name string, params models.SearchParams, resp *models.SearchResponse) (models.SearchResult, error) {
	adapter, _ := s.registry.Get(name)
	pc, _ := s.cfg.Provider(name)

	timeout := pc.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	began := s.clock.Now()
	result, err := adapter.Search(callCtx, params)
	cancel()
	elapsed := s.clock.Since(began)
	success := err == nil

	if s.breaker != nil {
		if success {
			s.breaker.RecordSuccess(name)
		} else {
			s.breaker.RecordFailure(name)
		}
	}
	s.metrics.RecordProviderCall(name, success, elapsed)

	if s.tracker != nil {
		a := models.Attempt{
			RequestID:  resp.RequestID,
			Provider:   name,
			Kind:       params.Kind,
			CacheKey:   resp.CacheKey,
			LatencyMs:  elapsed.Milliseconds(),
			Success:    success,
			OfferCount: len(result.Offers),
		}
		if err != nil {
			a.Error = err.Error()
		}
		if terr := s.tracker.Record(ctx, a); terr != nil {
			s.logger.Warn("record attempt failed", zap.String("provider", name), zap.Error(terr))
		}
	}

	var reported *float64
	if success {
		reported = result.QuotaUsedPercent
	}
	cost := pc.CostPerRequest
	if cost <= 0 {
		cost = -1
	}
	s.weights.UpdateMetrics(name, elapsed, success, s.quotaUsedPercent(ctx, name, reported), cost)

	if err != nil {
		return models.SearchResult{}, err
	}
	if result.Provider == "" {
		result.Provider = name
	}
	return result, nil
}

// quotaUsedPercent prefers the provider-reported value, then the quota
// policies, then the last known value.
func (s *Service) quotaUsedPercent(ctx context.Context, name string, reported *float64) float64 {
	if reported != nil {
		return *reported
	}
	if s.enforcer != nil {
		pct, err := s.enforcer.UsedPercent(ctx, name)
		if err == nil && pct >= 0 {
			return pct
		}
	}
	return s.weights.Lookup(name).QuotaUsedPercent
}

func (s *Service) store(ctx context.Context, key string, params models.SearchParams, result models.SearchResult) {
	if s.cache == nil {
		return
	}
	s.cache.Set(ctx, key, result, cache.SetOptions{
		Kind:     params.Kind,
		Tags:     Tags(params),
		Provider: result.Provider,
	})
}

// Tags returns the invalidation tags attached to a cached search.
func Tags(p models.SearchParams) []string {
	return []string{
		"kind:" + string(p.Kind),
		"dest:" + cache.NormalizeKey(p.Destination),
	}
}
