package cache

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

type options struct {
	maxMemory     int64
	sweepInterval time.Duration
	defaultTTL    time.Duration
	strategies    map[models.SearchKind]any
	store         Store
	clock         clock.Clock
	logger        *zap.Logger
}

// Option configures a Manager.
type Option func(*options)

// WithMaxMemory caps the estimated size of all entries. Zero means unbounded.
func WithMaxMemory(bytes int64) Option {
	return func(o *options) {
		o.maxMemory = bytes
	}
}

// WithSweepInterval sets how often expired entries are swept. A non-positive
// interval disables the background sweeper; Sweep can still be called directly.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = d
	}
}

// WithDefaultTTL sets the TTL used when neither the caller nor a strategy picks one.
func WithDefaultTTL(d time.Duration) Option {
	return func(o *options) {
		o.defaultTTL = d
	}
}

// WithStrategy registers s for kind, replacing the stock strategy.
// The strategy's payload type must match the Manager's.
func WithStrategy[T any](kind models.SearchKind, s Strategy[T]) Option {
	return func(o *options) {
		if o.strategies == nil {
			o.strategies = make(map[models.SearchKind]any)
		}
		o.strategies[kind] = s
	}
}

// WithStore enables the persistent fallback.
func WithStore(s Store) Option {
	return func(o *options) {
		o.store = s
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
