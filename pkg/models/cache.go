package models

import "time"

// CacheEntryInfo describes a live in-memory cache entry without its payload.
type CacheEntryInfo struct {
	Key            string        `json:"key"`
	CreatedAt      time.Time     `json:"created_at"`
	TTL            time.Duration `json:"ttl"`
	AccessCount    int64         `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	SizeBytes      int64         `json:"size_bytes"`
	Priority       int           `json:"priority"`
	Provider       string        `json:"provider,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
}

// CacheMetrics reports in-memory cache performance.
type CacheMetrics struct {
	Hits                  int64   `json:"hits"`
	Misses                int64   `json:"misses"`
	Evictions             int64   `json:"evictions"`
	Expirations           int64   `json:"expirations"`
	Entries               int     `json:"entries"`
	MemoryUsageBytes      int64   `json:"memory_usage_bytes"`
	HitRatePercent        float64 `json:"hit_rate_percent"`
	AvgResponseTimeMillis float64 `json:"avg_response_time_ms"`
}

// CacheLabels are the invalidation handles saved with a cached value.
type CacheLabels struct {
	Provider string   `json:"provider,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// StoredValue is a value read back from a persistent cache store.
type StoredValue struct {
	Value     []byte
	ExpiresAt time.Time
	CacheLabels
}

// CacheStats reports persistent cache store metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
	Bytes   int64 `json:"bytes"`
}
