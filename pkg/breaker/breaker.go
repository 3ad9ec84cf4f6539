// Package breaker tracks a closed/open/half_open circuit per provider.
package breaker

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

type circuit struct {
	state                models.BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
}

// Breaker holds one circuit per provider. Unknown providers are closed.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	clock            clock.Clock
	logger           *zap.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThresholds sets how many consecutive failures open a circuit and how
// many half-open successes close it again.
func WithThresholds(failures, successes int) Option {
	return func(b *Breaker) {
		if failures > 0 {
			b.failureThreshold = failures
		}
		if successes > 0 {
			b.successThreshold = successes
		}
	}
}

// WithOpenTimeout sets how long a circuit stays open before a trial request is allowed.
func WithOpenTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		b.openTimeout = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(b *Breaker) {
		b.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Breaker) {
		b.logger = l
	}
}

// New creates a Breaker. Defaults: 5 failures to open, 1 success to close, 60s open timeout.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		circuits:         make(map[string]*circuit),
		failureThreshold: 5,
		successThreshold: 1,
		openTimeout:      60 * time.Second,
		clock:            clock.New(),
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a request to provider may proceed. An open circuit
// whose timeout has elapsed moves to half_open and lets the request through.
func (b *Breaker) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[provider]
	if !ok {
		return true
	}
	switch c.state {
	case models.BreakerOpen:
		if b.clock.Since(c.openedAt) < b.openTimeout {
			return false
		}
		c.state = models.BreakerHalfOpen
		c.consecutiveSuccesses = 0
		b.logger.Info("circuit half-open", zap.String("provider", provider))
		return true
	default:
		return true
	}
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(provider)
	c.consecutiveFailures = 0
	if c.state != models.BreakerHalfOpen {
		return
	}
	c.consecutiveSuccesses++
	if c.consecutiveSuccesses >= b.successThreshold {
		c.state = models.BreakerClosed
		c.consecutiveSuccesses = 0
		c.openedAt = time.Time{}
		b.logger.Info("circuit closed", zap.String("provider", provider))
	}
}

// RecordFailure notes a failed call. A failure while half_open reopens the circuit.
func (b *Breaker) RecordFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(provider)
	c.consecutiveFailures++
	c.consecutiveSuccesses = 0

	switch c.state {
	case models.BreakerHalfOpen:
		b.openLocked(provider, c)
	case models.BreakerClosed:
		if c.consecutiveFailures >= b.failureThreshold {
			b.openLocked(provider, c)
		}
	}
}

// State returns the provider's current state without advancing it.
func (b *Breaker) State(provider string) models.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[provider]; ok {
		return c.state
	}
	return models.BreakerClosed
}

// Snapshot returns the status of every provider seen so far, ordered by id.
func (b *Breaker) Snapshot() []models.BreakerStatus {
	b.mu.Lock()
	out := make([]models.BreakerStatus, 0, len(b.circuits))
	for id, c := range b.circuits {
		out = append(out, models.BreakerStatus{
			ProviderID:          id,
			State:               c.state,
			ConsecutiveFailures: c.consecutiveFailures,
			OpenedAt:            c.openedAt,
		})
	}
	b.mu.Unlock()

	slices.SortFunc(out, func(x, y models.BreakerStatus) int {
		return cmp.Compare(x.ProviderID, y.ProviderID)
	})
	return out
}

func (b *Breaker) circuitLocked(provider string) *circuit {
	c, ok := b.circuits[provider]
	if !ok {
		c = &circuit{state: models.BreakerClosed}
		b.circuits[provider] = c
	}
	return c
}

func (b *Breaker) openLocked(provider string, c *circuit) {
	c.state = models.BreakerOpen
	c.openedAt = b.clock.Now()
	b.logger.Warn("circuit opened",
		zap.String("provider", provider),
		zap.Int("consecutive_failures", c.consecutiveFailures),
	)
}
