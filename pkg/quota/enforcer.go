package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wayfare-ai/wayfare/pkg/models"
	"github.com/wayfare-ai/wayfare/pkg/tracker"
)

// ErrQuotaExceeded is returned when a provider has used up a quota policy.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Enforcer checks upstream request counts against quota policies.
type Enforcer struct {
	policies []models.QuotaPolicy
	tracker  tracker.Tracker
	clock    clock.Clock
}

// Option configures an Enforcer.
type Option func(*Enforcer)

func WithClock(c clock.Clock) Option {
	return func(e *Enforcer) {
		e.clock = c
	}
}

// New creates an Enforcer with the given policies and tracker.
func New(policies []models.QuotaPolicy, t tracker.Tracker, opts ...Option) *Enforcer {
	e := &Enforcer{policies: policies, tracker: t, clock: clock.New()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check returns ErrQuotaExceeded if the provider has exhausted any applicable policy.
func (e *Enforcer) Check(ctx context.Context, provider string) error {
	statuses, err := e.Status(ctx, provider)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	for _, s := range statuses {
		if s.Remaining <= 0 {
			return fmt.Errorf("%s %s quota: %w", provider, s.Policy.Period, ErrQuotaExceeded)
		}
	}
	return nil
}

// UsedPercent returns the highest usage percentage across the provider's
// policies, or -1 when no policy applies.
func (e *Enforcer) UsedPercent(ctx context.Context, provider string) (float64, error) {
	statuses, err := e.Status(ctx, provider)
	if err != nil {
		return 0, err
	}
	if len(statuses) == 0 {
		return -1, nil
	}
	used := 0.0
	for _, s := range statuses {
		used = max(used, s.UsedPercent)
	}
	return used, nil
}

// Status returns the quota status for a provider across all applicable policies.
func (e *Enforcer) Status(ctx context.Context, provider string) ([]models.QuotaStatus, error) {
	policies := e.policiesFor(provider)
	statuses := make([]models.QuotaStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.tracker.CountSince(ctx, provider, e.periodStart(p.Period))
		if err != nil {
			return nil, fmt.Errorf("quota status: %w", err)
		}
		remaining := p.MaxRequests - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.QuotaStatus{
			Policy:      p,
			Used:        used,
			Remaining:   remaining,
			UsedPercent: min(float64(used)/float64(p.MaxRequests)*100, 100),
		})
	}
	return statuses, nil
}

// Policies returns the configured policies.
func (e *Enforcer) Policies() []models.QuotaPolicy {
	return e.policies
}

func (e *Enforcer) policiesFor(provider string) []models.QuotaPolicy {
	var result []models.QuotaPolicy
	for _, p := range e.policies {
		if p.Provider == "*" || p.Provider == provider {
			result = append(result, p)
		}
	}
	return result
}

func (e *Enforcer) periodStart(period models.QuotaPeriod) time.Time {
	now := e.clock.Now().UTC()
	switch period {
	case models.QuotaMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
