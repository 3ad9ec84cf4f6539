// Package telemetry exposes search, cache, provider and breaker metrics to Prometheus.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

// Search outcomes recorded by RecordSearch.
const (
	OutcomeHit        = "hit"
	OutcomeMiss       = "miss"
	OutcomeNoProvider = "no_provider"
	OutcomeError      = "error"
)

// Metrics holds the request-path metrics. A nil *Metrics records nothing.
type Metrics struct {
	Searches         *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
}

// NewMetrics creates and registers the request-path metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		Searches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfare_searches_total",
				Help: "Searches served, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		SearchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wayfare_search_duration_seconds",
				Help:    "End-to-end search duration in seconds",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wayfare_provider_requests_total",
				Help: "Upstream provider calls, by provider and result",
			},
			[]string{"provider", "result"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wayfare_provider_latency_seconds",
				Help:    "Upstream provider call latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		),
	}
}

// RecordSearch counts a finished search.
func (m *Metrics) RecordSearch(kind models.SearchKind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(string(kind), outcome).Inc()
	m.SearchDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// RecordProviderCall counts one upstream call.
func (m *Metrics) RecordProviderCall(provider string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.ProviderRequests.WithLabelValues(provider, result).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
