package models

import "time"

// Attempt records one upstream provider call made while serving a search.
type Attempt struct {
	ID         int64      `json:"id"`
	RequestID  string     `json:"request_id"`
	Provider   string     `json:"provider"`
	Kind       SearchKind `json:"kind"`
	CacheKey   string     `json:"cache_key"`
	LatencyMs  int64      `json:"latency_ms"`
	Success    bool       `json:"success"`
	OfferCount int        `json:"offer_count"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ProviderSummary aggregates attempts per provider and kind.
type ProviderSummary struct {
	Provider     string     `json:"provider"`
	Kind         SearchKind `json:"kind"`
	Requests     int        `json:"requests"`
	Successes    int        `json:"successes"`
	AvgLatencyMs float64    `json:"avg_latency_ms"`
	Offers       int        `json:"offers"`
}

// SuccessRate returns the percentage of successful attempts.
func (s ProviderSummary) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests) * 100
}
