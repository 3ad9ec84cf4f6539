package cache

import (
	"context"
	"time"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

// Store is an optional persistent layer behind the in-memory cache.
// Implementations live in the sqlite, leveldb and postgres subpackages.
type Store interface {
	// Get returns the stored value for key. Expired values report false.
	Get(ctx context.Context, key string) (models.StoredValue, bool, error)
	// Put stores value with its labels until ttl elapses.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration, labels models.CacheLabels) error
	Delete(ctx context.Context, key string) error
	// DeleteByTag removes every entry saved with tag, expired or not, and
	// returns the removed keys.
	DeleteByTag(ctx context.Context, tag string) ([]string, error)
	// DeleteByProvider removes every entry saved for provider and returns the
	// removed keys.
	DeleteByProvider(ctx context.Context, provider string) ([]string, error)
	Stats(ctx context.Context) (models.CacheStats, error)
	// Clear removes entries. If expiredOnly is true, only expired entries are removed.
	Clear(ctx context.Context, expiredOnly bool) error
	Close() error
}
