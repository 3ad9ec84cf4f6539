package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

// CacheSource reports in-memory cache counters.
type CacheSource interface {
	Metrics() models.CacheMetrics
}

// ScoreSource reports provider scores.
type ScoreSource interface {
	Scores() []models.ProviderScore
}

// BreakerSource reports circuit states.
type BreakerSource interface {
	Snapshot() []models.BreakerStatus
}

// RegisterCache exposes the cache's counters, read on every scrape.
func RegisterCache(registry prometheus.Registerer, src CacheSource) error {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wayfare_cache_hits_total",
			Help: "Cache lookups served from memory or the persistent store",
		}, func() float64 { return float64(src.Metrics().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wayfare_cache_misses_total",
			Help: "Cache lookups that found no live entry",
		}, func() float64 { return float64(src.Metrics().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wayfare_cache_evictions_total",
			Help: "Entries removed by capacity pressure or invalidation",
		}, func() float64 { return float64(src.Metrics().Evictions) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "wayfare_cache_expirations_total",
			Help: "Entries removed after their TTL elapsed",
		}, func() float64 { return float64(src.Metrics().Expirations) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wayfare_cache_entries",
			Help: "Entries currently held in memory",
		}, func() float64 { return float64(src.Metrics().Entries) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wayfare_cache_memory_bytes",
			Help: "Estimated size of all in-memory entries",
		}, func() float64 { return float64(src.Metrics().MemoryUsageBytes) }),
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

var (
	weightDesc = prometheus.NewDesc(
		"wayfare_provider_weight", "Current provider selection weight", []string{"provider"}, nil)
	healthDesc = prometheus.NewDesc(
		"wayfare_provider_health_score", "Composite provider health score", []string{"provider"}, nil)
	successDesc = prometheus.NewDesc(
		"wayfare_provider_success_rate_percent", "Smoothed provider success rate", []string{"provider"}, nil)
	latencyDesc = prometheus.NewDesc(
		"wayfare_provider_latency_ms", "Smoothed provider latency in milliseconds", []string{"provider"}, nil)
	quotaDesc = prometheus.NewDesc(
		"wayfare_provider_quota_used_percent", "Provider quota consumption", []string{"provider"}, nil)
	breakerDesc = prometheus.NewDesc(
		"wayfare_circuit_breaker_state", "Circuit state (0=closed, 1=half_open, 2=open)", []string{"provider"}, nil)
)

// StateCollector reports provider scores and breaker states on each scrape.
type StateCollector struct {
	scores   ScoreSource
	breakers BreakerSource
}

// NewStateCollector creates a collector. Either source may be nil.
func NewStateCollector(scores ScoreSource, breakers BreakerSource) *StateCollector {
	return &StateCollector{scores: scores, breakers: breakers}
}

func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- weightDesc
	ch <- healthDesc
	ch <- successDesc
	ch <- latencyDesc
	ch <- quotaDesc
	ch <- breakerDesc
}

func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	if c.scores != nil {
		for _, s := range c.scores.Scores() {
			ch <- prometheus.MustNewConstMetric(weightDesc, prometheus.GaugeValue, s.Weight, s.ProviderID)
			ch <- prometheus.MustNewConstMetric(healthDesc, prometheus.GaugeValue, s.HealthScore, s.ProviderID)
			ch <- prometheus.MustNewConstMetric(successDesc, prometheus.GaugeValue, s.EMASuccessRatePercent, s.ProviderID)
			ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, s.EMALatencyMillis, s.ProviderID)
			ch <- prometheus.MustNewConstMetric(quotaDesc, prometheus.GaugeValue, s.QuotaUsedPercent, s.ProviderID)
		}
	}
	if c.breakers != nil {
		for _, b := range c.breakers.Snapshot() {
			ch <- prometheus.MustNewConstMetric(breakerDesc, prometheus.GaugeValue, breakerValue(b.State), b.ProviderID)
		}
	}
}

func breakerValue(s models.BreakerState) float64 {
	switch s {
	case models.BreakerOpen:
		return 2
	case models.BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}
