package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/wayfare-ai/wayfare/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all wayfare configuration.
type Config struct {
	Listen    string           `yaml:"listen" toml:"listen"`
	DBPath    string           `yaml:"db_path" toml:"db_path"`
	Logging   LoggingConfig    `yaml:"logging" toml:"logging"`
	Providers []ProviderConfig `yaml:"providers" toml:"providers"`
	Router    RouterConfig     `yaml:"router" toml:"router"`
	Cache     CacheConfig      `yaml:"cache" toml:"cache"`
	Weights   WeightsConfig    `yaml:"weights" toml:"weights"`
	Selection SelectionConfig  `yaml:"selection" toml:"selection"`
	Breaker   BreakerConfig    `yaml:"breaker" toml:"breaker"`
	Quota     QuotaConfig      `yaml:"quota" toml:"quota"`
	Tracking  TrackingConfig   `yaml:"tracking" toml:"tracking"`
}

// LoggingConfig controls the zap logger built by the CLI.
// Format is "json" (default) or "console".
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ProviderConfig defines an upstream travel-data provider.
type ProviderConfig struct {
	Name           string                       `yaml:"name" toml:"name"`
	URL            string                       `yaml:"url" toml:"url"`
	APIKey         string                       `yaml:"api_key" toml:"api_key"`
	Kinds          []models.SearchKind          `yaml:"kinds" toml:"kinds"`
	Paths          map[models.SearchKind]string `yaml:"paths" toml:"paths"`
	CostPerRequest float64                      `yaml:"cost_per_request" toml:"cost_per_request"`
	Timeout        time.Duration                `yaml:"timeout" toml:"timeout"`
}

// Supports reports whether the provider serves the given search kind.
// A provider without explicit kinds serves all of them.
func (p ProviderConfig) Supports(kind models.SearchKind) bool {
	if len(p.Kinds) == 0 {
		return true
	}
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// RouterConfig defines per-kind candidate provider lists.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes" toml:"routes"`
}

// RouteConfig maps a search kind to an ordered list of provider names.
type RouteConfig struct {
	Kind      models.SearchKind `yaml:"kind" toml:"kind"`
	Providers []string          `yaml:"providers" toml:"providers"`
}

// CacheConfig controls the search response cache.
type CacheConfig struct {
	Enabled       bool                                `yaml:"enabled" toml:"enabled"`
	MaxMemory     string                              `yaml:"max_memory" toml:"max_memory"`
	SweepInterval time.Duration                       `yaml:"sweep_interval" toml:"sweep_interval"`
	DefaultTTL    time.Duration                       `yaml:"default_ttl" toml:"default_ttl"`
	TTL           map[models.SearchKind]time.Duration `yaml:"ttl" toml:"ttl"`
	Store         StoreConfig                         `yaml:"store" toml:"store"`
}

// MaxMemoryBytes parses MaxMemory ("64MiB", "50mb", "1048576").
func (c CacheConfig) MaxMemoryBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.MaxMemory)
	if err != nil {
		return 0, fmt.Errorf("cache.max_memory: %w", err)
	}
	return int64(n), nil
}

// StoreConfig selects the persistent cache store.
// Driver is "none", "sqlite", "leveldb" or "postgres".
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// WeightsConfig tunes the provider weight tracker. The defaults are heuristics.
type WeightsConfig struct {
	Alpha              float64       `yaml:"alpha" toml:"alpha"`
	BaseWeight         float64       `yaml:"base_weight" toml:"base_weight"`
	MinWeight          float64       `yaml:"min_weight" toml:"min_weight"`
	MaxWeight          float64       `yaml:"max_weight" toml:"max_weight"`
	DefaultLatency     time.Duration `yaml:"default_latency" toml:"default_latency"`
	DefaultCost        float64       `yaml:"default_cost" toml:"default_cost"`
	DegradedBelow      float64       `yaml:"degraded_below" toml:"degraded_below"`
	FailingBelow       float64       `yaml:"failing_below" toml:"failing_below"`
	DegradedFactor     float64       `yaml:"degraded_factor" toml:"degraded_factor"`
	FailingFactor      float64       `yaml:"failing_factor" toml:"failing_factor"`
	RecoveryBelow      float64       `yaml:"recovery_below" toml:"recovery_below"`
	RecoveryRate       float64       `yaml:"recovery_rate" toml:"recovery_rate"`
	RecoveryInterval   time.Duration `yaml:"recovery_interval" toml:"recovery_interval"`
	LatencyCeiling     time.Duration `yaml:"latency_ceiling" toml:"latency_ceiling"`
	CostCeiling        float64       `yaml:"cost_ceiling" toml:"cost_ceiling"`
	LatencyCoefficient float64       `yaml:"latency_coefficient" toml:"latency_coefficient"`
	SuccessCoefficient float64       `yaml:"success_coefficient" toml:"success_coefficient"`
	QuotaCoefficient   float64       `yaml:"quota_coefficient" toml:"quota_coefficient"`
	CostCoefficient    float64       `yaml:"cost_coefficient" toml:"cost_coefficient"`
}

// SelectionConfig controls how many providers a search may try.
// A zero Seed uses a random seed.
type SelectionConfig struct {
	MaxAttempts int    `yaml:"max_attempts" toml:"max_attempts"`
	Seed        uint64 `yaml:"seed" toml:"seed"`
}

// BreakerConfig controls the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" toml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" toml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" toml:"open_timeout"`
}

// QuotaConfig controls provider request quotas.
type QuotaConfig struct {
	Enabled  bool                 `yaml:"enabled" toml:"enabled"`
	Policies []models.QuotaPolicy `yaml:"policies" toml:"policies"`
}

// TrackingConfig controls the attempt log. A zero Retention keeps every attempt.
type TrackingConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Retention time.Duration `yaml:"retention" toml:"retention"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "wayfare.db",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Cache: CacheConfig{
			Enabled:       true,
			MaxMemory:     "64MiB",
			SweepInterval: 5 * time.Minute,
			DefaultTTL:    15 * time.Minute,
			TTL: map[models.SearchKind]time.Duration{
				models.KindFlight:   10 * time.Minute,
				models.KindHotel:    30 * time.Minute,
				models.KindActivity: 2 * time.Hour,
			},
			Store: StoreConfig{Driver: "none"},
		},
		Weights: DefaultWeights(),
		Selection: SelectionConfig{
			MaxAttempts: 3,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OpenTimeout:      60 * time.Second,
		},
		Tracking: TrackingConfig{Enabled: true},
	}
}

// DefaultWeights returns the stock weight tracker tuning.
func DefaultWeights() WeightsConfig {
	return WeightsConfig{
		Alpha:              0.3,
		BaseWeight:         100,
		MinWeight:          1,
		MaxWeight:          100,
		DefaultLatency:     time.Second,
		DefaultCost:        0.01,
		DegradedBelow:      80,
		FailingBelow:       50,
		DegradedFactor:     0.5,
		FailingFactor:      0.1,
		RecoveryBelow:      50,
		RecoveryRate:       0.05,
		RecoveryInterval:   60 * time.Second,
		LatencyCeiling:     5 * time.Second,
		CostCeiling:        0.1,
		LatencyCoefficient: 0.3,
		SuccessCoefficient: 0.4,
		QuotaCoefficient:   0.2,
		CostCoefficient:    0.1,
	}
}

// Load reads a YAML or TOML config file and expands environment variables.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the runtime cannot work with.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate provider %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.CostPerRequest < 0 {
			return fmt.Errorf("providers[%d]: cost_per_request must not be negative", i)
		}
		for _, k := range p.Kinds {
			if !k.Valid() {
				return fmt.Errorf("providers[%d]: unknown kind %q", i, k)
			}
		}
	}

	for i, r := range c.Router.Routes {
		if !r.Kind.Valid() {
			return fmt.Errorf("router.routes[%d]: unknown kind %q", i, r.Kind)
		}
	}

	for k, ttl := range c.Cache.TTL {
		if !k.Valid() {
			return fmt.Errorf("cache.ttl: unknown kind %q", k)
		}
		if ttl <= 0 {
			return fmt.Errorf("cache.ttl.%s: must be positive", k)
		}
	}
	if c.Cache.Enabled {
		limit, err := c.Cache.MaxMemoryBytes()
		if err != nil {
			return err
		}
		if limit <= 0 {
			return fmt.Errorf("cache.max_memory: must be positive")
		}
	}
	switch c.Cache.Store.Driver {
	case "", "none", "sqlite", "leveldb":
	case "postgres":
		if c.Cache.Store.DSN == "" {
			return fmt.Errorf("cache.store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("cache.store.driver: unknown driver %q", c.Cache.Store.Driver)
	}

	if c.Weights.Alpha <= 0 || c.Weights.Alpha > 1 {
		return fmt.Errorf("weights.alpha: must be in (0, 1]")
	}
	if c.Selection.MaxAttempts <= 0 {
		return fmt.Errorf("selection.max_attempts: must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold: must be positive")
	}

	if c.Tracking.Retention < 0 {
		return fmt.Errorf("tracking.retention: must not be negative")
	}

	for i, p := range c.Quota.Policies {
		if p.MaxRequests <= 0 {
			return fmt.Errorf("quota.policies[%d]: max_requests must be positive", i)
		}
	}
	return nil
}

// Provider returns the provider with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
