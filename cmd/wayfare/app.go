package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wayfare-ai/wayfare/pkg/breaker"
	"github.com/wayfare-ai/wayfare/pkg/cache"
	"github.com/wayfare-ai/wayfare/pkg/cache/leveldb"
	"github.com/wayfare-ai/wayfare/pkg/cache/postgres"
	"github.com/wayfare-ai/wayfare/pkg/cache/sqlite"
	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
	"github.com/wayfare-ai/wayfare/pkg/provider"
	"github.com/wayfare-ai/wayfare/pkg/quota"
	"github.com/wayfare-ai/wayfare/pkg/search"
	"github.com/wayfare-ai/wayfare/pkg/selector"
	"github.com/wayfare-ai/wayfare/pkg/telemetry"
	"github.com/wayfare-ai/wayfare/pkg/tracker"
	"github.com/wayfare-ai/wayfare/pkg/weights"
)

// newLogger builds a zap logger from the logging section.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("logging.format: unknown format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// openStore opens the configured persistent cache store, or returns nil when
// the driver is "none".
func openStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	sc := cfg.Cache.Store
	switch sc.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		path := sc.Path
		if path == "" {
			path = cfg.DBPath
		}
		s, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "leveldb":
		path := sc.Path
		if path == "" {
			path = filepath.Join(filepath.Dir(cfg.DBPath), "wayfare-cache")
		}
		s, err := leveldb.Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache store driver %q", sc.Driver)
	}
}

// app holds every long-lived component of a running wayfare process.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	tracker  tracker.Tracker
	enforcer *quota.Enforcer
	store    cache.Store
	cache    *cache.Manager[models.SearchResult]
	weights  *weights.Tracker
	service  *search.Service
}

// newApp wires the search service and its collaborators from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	var opts []search.Option

	if cfg.Tracking.Enabled {
		tr, err := tracker.New(cfg.DBPath,
			tracker.WithRetention(cfg.Tracking.Retention),
			tracker.WithLogger(logger.Named("tracker")),
		)
		if err != nil {
			return nil, fmt.Errorf("init tracker: %w", err)
		}
		a.tracker = tr
		opts = append(opts, search.WithTracker(tr))
	}

	if cfg.Quota.Enabled {
		if a.tracker == nil {
			a.Close()
			return nil, fmt.Errorf("quota enforcement requires tracking.enabled")
		}
		a.enforcer = quota.New(cfg.Quota.Policies, a.tracker)
		opts = append(opts, search.WithEnforcer(a.enforcer))
	}

	if cfg.Cache.Enabled {
		maxMemory, err := cfg.Cache.MaxMemoryBytes()
		if err != nil {
			a.Close()
			return nil, err
		}
		store, err := openStore(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open cache store: %w", err)
		}
		a.store = store

		cacheOpts := []cache.Option{
			cache.WithMaxMemory(maxMemory),
			cache.WithSweepInterval(cfg.Cache.SweepInterval),
			cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
			cache.WithLogger(logger.Named("cache")),
		}
		if store != nil {
			cacheOpts = append(cacheOpts, cache.WithStore(store))
		}
		for kind, ttl := range cfg.Cache.TTL {
			cacheOpts = append(cacheOpts, cache.WithStrategy(kind, kindStrategy(kind, ttl)))
		}
		a.cache = cache.New[models.SearchResult](cacheOpts...)
		opts = append(opts, search.WithCache(a.cache))

		if err := telemetry.RegisterCache(a.registry, a.cache); err != nil {
			a.Close()
			return nil, fmt.Errorf("register cache metrics: %w", err)
		}
	}

	a.weights = weights.New(
		weights.WithConfig(cfg.Weights),
		weights.WithLogger(logger.Named("weights")),
	)
	b := breaker.New(
		breaker.WithThresholds(cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold),
		breaker.WithOpenTimeout(cfg.Breaker.OpenTimeout),
		breaker.WithLogger(logger.Named("breaker")),
	)
	sel := selector.New(a.weights,
		selector.WithGate(b),
		selector.WithSeed(cfg.Selection.Seed),
		selector.WithLogger(logger.Named("selector")),
	)
	a.registry.MustRegister(telemetry.NewStateCollector(a.weights, b))

	opts = append(opts,
		search.WithBreaker(b),
		search.WithMetrics(telemetry.NewMetrics(a.registry)),
		search.WithLogger(logger.Named("search")),
	)
	providers := provider.FromConfig(cfg, http.DefaultClient)
	a.service = search.New(cfg, providers, a.weights, sel, opts...)
	logger.Info("search service ready",
		zap.Strings("providers", providers.Names()),
		zap.Bool("cache", a.cache != nil),
		zap.Bool("tracking", a.tracker != nil),
		zap.Bool("quota", a.enforcer != nil),
	)
	return a, nil
}

// kindStrategy returns the stock strategy for kind with its lifetime
// replaced by the configured TTL.
func kindStrategy(kind models.SearchKind, ttl time.Duration) cache.Strategy[models.SearchResult] {
	s, ok := cache.SearchStrategies[models.SearchResult]()[kind].(cache.CountStrategy[models.SearchResult])
	if !ok {
		s = cache.CountStrategy[models.SearchResult]{Base: 5}
	}
	s.Lifetime = ttl
	return s
}

// Close releases every component that holds resources.
func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.weights != nil {
		a.weights.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close cache store", zap.Error(err))
		}
	}
	if a.tracker != nil {
		if err := a.tracker.Close(); err != nil {
			a.logger.Warn("close tracker", zap.Error(err))
		}
	}
}

// loadConfig loads the config file and builds the logger.
func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
