package cache

import (
	"reflect"
	"time"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

// Strategy decides whether and how long a value is cached, and how hard the
// manager tries to keep it under memory pressure.
type Strategy[T any] interface {
	ShouldCache(key string, v T) bool
	TTL(key string, v T) time.Duration
	// Priority ranks the entry from 1 (evicted first) to 10.
	Priority(key string, v T) int
}

// Counter is implemented by payloads that can report how many results they hold.
type Counter interface {
	Count() int
}

// CountStrategy caches non-empty payloads for a fixed Lifetime. Payloads with
// more than RichAbove results rank at Rich, the rest at Base.
type CountStrategy[T any] struct {
	Lifetime  time.Duration
	Base      int
	RichAbove int
	Rich      int
}

func (s CountStrategy[T]) ShouldCache(_ string, v T) bool {
	return cacheable(v)
}

func (s CountStrategy[T]) TTL(string, T) time.Duration {
	return s.Lifetime
}

func (s CountStrategy[T]) Priority(_ string, v T) int {
	if c, ok := any(v).(Counter); ok && s.RichAbove > 0 && c.Count() > s.RichAbove {
		return s.Rich
	}
	return s.Base
}

// SearchStrategies returns the stock per-kind strategies: flights are kept
// 10 minutes, hotels 30 minutes and activities 2 hours.
func SearchStrategies[T any]() map[models.SearchKind]Strategy[T] {
	return map[models.SearchKind]Strategy[T]{
		models.KindFlight:   CountStrategy[T]{Lifetime: 10 * time.Minute, Base: 5, RichAbove: 10, Rich: 8},
		models.KindHotel:    CountStrategy[T]{Lifetime: 30 * time.Minute, Base: 4, RichAbove: 20, Rich: 7},
		models.KindActivity: CountStrategy[T]{Lifetime: 2 * time.Hour, Base: 6},
	}
}

// cacheable rejects zero values and empty result sets.
func cacheable[T any](v T) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() || rv.IsZero() {
		return false
	}
	if c, ok := any(v).(Counter); ok {
		return c.Count() > 0
	}
	return true
}
