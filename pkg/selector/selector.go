// Package selector picks an upstream provider by weighted random draw.
package selector

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

// Scores supplies the current score of a provider, with neutral defaults for
// providers that have not been seen yet.
type Scores interface {
	Lookup(provider string) models.ProviderScore
}

// Gate reports whether a provider may currently receive requests.
type Gate interface {
	Allow(provider string) bool
}

// Candidate is an eligible provider and its adjusted selection weight.
type Candidate struct {
	Provider string
	Weight   float64
	Score    models.ProviderScore
}

// Selector chooses among eligible providers in proportion to their weight,
// so weaker providers still get occasional traffic and can prove recovery.
type Selector struct {
	scores Scores
	gate   Gate
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithGate filters out providers the gate denies, typically a circuit breaker.
func WithGate(g Gate) Option {
	return func(s *Selector) {
		s.gate = g
	}
}

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) {
		s.rng = r
	}
}

// WithSeed seeds a PCG random source. Zero keeps the random seed.
func WithSeed(seed uint64) Option {
	return func(s *Selector) {
		if seed != 0 {
			s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Selector) {
		s.logger = l
	}
}

// New creates a Selector reading weights from scores.
func New(scores Scores, opts ...Option) *Selector {
	s := &Selector{
		scores: scores,
		logger: zap.NewNop(),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Eligible filters candidates by gate, quota and criteria thresholds and
// returns them in input order with their adjusted weights.
func (s *Selector) Eligible(candidates []string, criteria models.SelectionCriteria) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		if seen[id] {
			continue
		}
		seen[id] = true

		score := s.scores.Lookup(id)
		if !admits(score, criteria) {
			continue
		}
		if s.gate != nil && !s.gate.Allow(id) {
			continue
		}
		out = append(out, Candidate{Provider: id, Weight: adjust(score, criteria), Score: score})
	}
	return out
}

// Select draws one provider from candidates. It reports false only when no
// candidate is eligible.
func (s *Selector) Select(candidates []string, criteria models.SelectionCriteria) (string, bool) {
	eligible := s.Eligible(candidates, criteria)
	if len(eligible) == 0 {
		s.logger.Debug("no eligible provider", zap.Strings("candidates", candidates))
		return "", false
	}

	var total float64
	for _, c := range eligible {
		total += c.Weight
	}
	if total <= 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return eligible[0].Provider, true
	}

	s.mu.Lock()
	r := s.rng.Float64() * total
	s.mu.Unlock()

	for _, c := range eligible {
		r -= c.Weight
		if r <= 0 {
			return c.Provider, true
		}
	}
	return eligible[0].Provider, true
}

func admits(score models.ProviderScore, c models.SelectionCriteria) bool {
	if score.QuotaUsedPercent >= 100 {
		return false
	}
	if c.MaxResponseTime != nil && score.EMALatencyMillis > float64(*c.MaxResponseTime)/float64(time.Millisecond) {
		return false
	}
	if c.MinSuccessRate != nil && score.EMASuccessRatePercent < *c.MinSuccessRate {
		return false
	}
	if c.MaxCostPerRequest != nil && score.CostPerRequest > *c.MaxCostPerRequest {
		return false
	}
	return true
}

func adjust(score models.ProviderScore, c models.SelectionCriteria) float64 {
	w := score.Weight
	if c.PrioritizeSpeed {
		w *= 2000 / max(score.EMALatencyMillis, 100)
	}
	if c.PrioritizeCost {
		w *= 0.1 / max(score.CostPerRequest, 0.001)
	}
	if c.PrioritizeReliability {
		w *= score.EMASuccessRatePercent / 100
	}
	return w
}
