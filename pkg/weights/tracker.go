// Package weights keeps a rolling performance score per upstream provider
// and derives the selection weight from it.
//
// Latency and success rate are exponential moving averages. The health score
// blends latency, success, quota headroom and cost; the weight follows the
// health score scaled down by the provider's state:
//
//	healthy  (success >= 80)      weight = health
//	degraded (50 <= success < 80) weight = health * 0.5
//	failing  (success < 50)       weight = health * 0.1
//
// Drops apply at once. Rises are limited to the recovery rate per update,
// and Recover lifts low weights on a timer, so trust returns gradually.
package weights

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
)

// Tracker holds provider scores in memory. It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	scores map[string]*models.ProviderScore

	cfg    config.WeightsConfig
	clock  clock.Clock
	logger *zap.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithConfig replaces the default tuning.
func WithConfig(cfg config.WeightsConfig) Option {
	return func(t *Tracker) {
		t.cfg = cfg
	}
}

func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// New creates a Tracker and starts the recovery ticker when the configured
// recovery interval is positive.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		scores: make(map[string]*models.ProviderScore),
		cfg:    config.DefaultWeights(),
		clock:  clock.New(),
		logger: zap.NewNop(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.startRecovery()
	return t
}

// UpdateMetrics folds one call outcome into the provider's score.
// A non-positive responseTime leaves the latency average untouched.
func (t *Tracker) UpdateMetrics(provider string, responseTime time.Duration, success bool, quotaUsedPercent, costPerRequest float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.scores[provider]
	if !ok {
		n := t.neutral(provider)
		s = &n
		t.scores[provider] = s
	}

	a := t.cfg.Alpha
	if responseTime > 0 {
		ms := float64(responseTime) / float64(time.Millisecond)
		s.EMALatencyMillis = a*ms + (1-a)*s.EMALatencyMillis
	}
	outcome := 0.0
	if success {
		outcome = 100
	}
	s.EMASuccessRatePercent = a*outcome + (1-a)*s.EMASuccessRatePercent
	s.QuotaUsedPercent = min(max(quotaUsedPercent, 0), 100)
	if costPerRequest >= 0 {
		s.CostPerRequest = costPerRequest
	}
	s.Requests++
	if !success {
		s.Failures++
	}

	prevState := s.State
	s.HealthScore = t.health(s)
	s.State = t.state(s.EMASuccessRatePercent)

	target := max(t.cfg.MinWeight, s.HealthScore*t.factor(s.State))
	if target < s.Weight {
		s.Weight = target
	} else {
		s.Weight = min(target, s.Weight*(1+t.cfg.RecoveryRate))
	}
	s.Weight = min(s.Weight, t.cfg.MaxWeight)
	s.UpdatedAt = t.clock.Now()

	if s.State != prevState {
		t.logger.Info("provider state changed",
			zap.String("provider", provider),
			zap.String("from", string(prevState)),
			zap.String("to", string(s.State)),
			zap.Float64("success_rate", s.EMASuccessRatePercent),
			zap.Float64("weight", s.Weight),
		)
	}
}

// SetQuota records quota usage observed outside a call, such as a quota
// policy count, and refreshes the health score. The weight is left alone.
func (t *Tracker) SetQuota(provider string, quotaUsedPercent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.scores[provider]
	if !ok {
		n := t.neutral(provider)
		s = &n
		t.scores[provider] = s
	}
	s.QuotaUsedPercent = min(max(quotaUsedPercent, 0), 100)
	s.HealthScore = t.health(s)
}

// Recover raises every weight below the recovery threshold by the recovery
// rate, capped at the maximum weight. It returns how many providers changed.
func (t *Tracker) Recover() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.scores {
		if s.Weight >= t.cfg.RecoveryBelow {
			continue
		}
		s.Weight = min(s.Weight*(1+t.cfg.RecoveryRate), t.cfg.MaxWeight)
		n++
	}
	if n > 0 {
		t.logger.Debug("recovered provider weights", zap.Int("count", n))
	}
	return n
}

// Score returns the tracked score for provider.
func (t *Tracker) Score(provider string) (models.ProviderScore, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.scores[provider]
	if !ok {
		return models.ProviderScore{}, false
	}
	return *s, true
}

// Lookup returns the tracked score for provider, or neutral defaults for a
// provider that has not been used yet.
func (t *Tracker) Lookup(provider string) models.ProviderScore {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.scores[provider]; ok {
		return *s
	}
	return t.neutral(provider)
}

// Set seeds or overwrites a provider's score.
func (t *Tracker) Set(score models.ProviderScore) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := score
	if s.State == "" {
		s.State = t.state(s.EMASuccessRatePercent)
	}
	t.scores[s.ProviderID] = &s
}

// Scores returns a snapshot of every tracked provider, ordered by id.
func (t *Tracker) Scores() []models.ProviderScore {
	t.mu.Lock()
	out := make([]models.ProviderScore, 0, len(t.scores))
	for _, s := range t.scores {
		out = append(out, *s)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b models.ProviderScore) int {
		return cmp.Compare(a.ProviderID, b.ProviderID)
	})
	return out
}

// Close stops the recovery ticker.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.stop)
		<-t.done
	})
}

func (t *Tracker) startRecovery() {
	if t.cfg.RecoveryInterval <= 0 {
		close(t.done)
		return
	}
	ticker := t.clock.Ticker(t.cfg.RecoveryInterval)
	go func() {
		defer close(t.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Recover()
			case <-t.stop:
				return
			}
		}
	}()
}

func (t *Tracker) neutral(provider string) models.ProviderScore {
	s := models.ProviderScore{
		ProviderID:            provider,
		Weight:                t.cfg.BaseWeight,
		EMALatencyMillis:      float64(t.cfg.DefaultLatency) / float64(time.Millisecond),
		EMASuccessRatePercent: 100,
		CostPerRequest:        t.cfg.DefaultCost,
		State:                 models.ProviderHealthy,
	}
	s.HealthScore = t.health(&s)
	return s
}

func (t *Tracker) health(s *models.ProviderScore) float64 {
	ceiling := float64(t.cfg.LatencyCeiling) / float64(time.Millisecond)
	latency := 0.0
	if ceiling > 0 {
		latency = 100 * (1 - min(s.EMALatencyMillis, ceiling)/ceiling)
	}
	cost := 0.0
	if t.cfg.CostCeiling > 0 {
		cost = 100 * (1 - min(s.CostPerRequest, t.cfg.CostCeiling)/t.cfg.CostCeiling)
	}
	return t.cfg.LatencyCoefficient*latency +
		t.cfg.SuccessCoefficient*s.EMASuccessRatePercent +
		t.cfg.QuotaCoefficient*(100-s.QuotaUsedPercent) +
		t.cfg.CostCoefficient*cost
}

func (t *Tracker) state(successRate float64) models.ProviderState {
	switch {
	case successRate < t.cfg.FailingBelow:
		return models.ProviderFailing
	case successRate < t.cfg.DegradedBelow:
		return models.ProviderDegraded
	default:
		return models.ProviderHealthy
	}
}

func (t *Tracker) factor(state models.ProviderState) float64 {
	switch state {
	case models.ProviderFailing:
		return t.cfg.FailingFactor
	case models.ProviderDegraded:
		return t.cfg.DegradedFactor
	default:
		return 1
	}
}
