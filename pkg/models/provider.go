package models

import "time"

// ProviderState is the coarse health state derived from a provider's success rate.
type ProviderState string

const (
	ProviderHealthy  ProviderState = "healthy"
	ProviderDegraded ProviderState = "degraded"
	ProviderFailing  ProviderState = "failing"
)

// ProviderScore is the rolling performance record kept for one upstream provider.
type ProviderScore struct {
	ProviderID            string        `json:"provider_id"`
	Weight                float64       `json:"weight"`
	EMALatencyMillis      float64       `json:"ema_latency_ms"`
	EMASuccessRatePercent float64       `json:"ema_success_rate_percent"`
	QuotaUsedPercent      float64       `json:"quota_used_percent"`
	CostPerRequest        float64       `json:"cost_per_request"`
	HealthScore           float64       `json:"health_score"`
	State                 ProviderState `json:"state"`
	Requests              int64         `json:"requests"`
	Failures              int64         `json:"failures"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// SelectionCriteria narrows and biases provider selection. Nil thresholds are unset.
type SelectionCriteria struct {
	MaxResponseTime       *time.Duration `json:"max_response_time,omitempty"`
	MinSuccessRate        *float64       `json:"min_success_rate,omitempty"`
	MaxCostPerRequest     *float64       `json:"max_cost_per_request,omitempty"`
	PrioritizeSpeed       bool           `json:"prioritize_speed,omitempty"`
	PrioritizeCost        bool           `json:"prioritize_cost,omitempty"`
	PrioritizeReliability bool           `json:"prioritize_reliability,omitempty"`
}

// BreakerState is the circuit breaker state of a provider.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerStatus is a snapshot of one provider's circuit.
type BreakerStatus struct {
	ProviderID          string       `json:"provider_id"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
}

// Float returns a pointer to v, for building SelectionCriteria.
func Float(v float64) *float64 { return &v }

// Duration returns a pointer to d, for building SelectionCriteria.
func Duration(d time.Duration) *time.Duration { return &d }
