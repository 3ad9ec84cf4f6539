// Package postgres is a persistent search cache store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lib/pq"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS search_cache (
	cache_key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE search_cache ADD COLUMN IF NOT EXISTS provider TEXT NOT NULL DEFAULT '';
ALTER TABLE search_cache ADD COLUMN IF NOT EXISTS tags TEXT[] NOT NULL DEFAULT '{}';
CREATE INDEX IF NOT EXISTS idx_search_cache_expires ON search_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_search_cache_provider ON search_cache(provider);
CREATE INDEX IF NOT EXISTS idx_search_cache_tags ON search_cache USING GIN (tags);
`

// Store is a persistent search cache backed by a search_cache table.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Option configures a Store.
type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// Open connects to dsn, verifies the connection and creates the table.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres cache: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres cache: %w", err)
	}

	if _, err := db.ExecContext(ctx, createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres cache: %w", err)
	}

	s := &Store{db: db, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) (models.StoredValue, bool, error) {
	var sv models.StoredValue
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at, provider, tags FROM search_cache WHERE cache_key = $1 AND expires_at > $2`,
		key, s.clock.Now(),
	).Scan(&sv.Value, &sv.ExpiresAt, &sv.Provider, pq.Array(&sv.Tags))
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredValue{}, false, nil
	}
	if err != nil {
		return models.StoredValue{}, false, fmt.Errorf("postgres cache get: %w", err)
	}
	return sv, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration, labels models.CacheLabels) error {
	tags := labels.Tags
	if tags == nil {
		tags = []string{}
	}
	now := s.clock.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_cache (cache_key, value, created_at, expires_at, provider, tags)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (cache_key) DO UPDATE
		 SET value = EXCLUDED.value, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at,
		     provider = EXCLUDED.provider, tags = EXCLUDED.tags`,
		key, value, now, now.Add(ttl), labels.Provider, pq.Array(tags),
	)
	if err != nil {
		return fmt.Errorf("postgres cache put: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE cache_key = $1`, key); err != nil {
		return fmt.Errorf("postgres cache delete: %w", err)
	}
	return nil
}

func (s *Store) DeleteByTag(ctx context.Context, tag string) ([]string, error) {
	return s.deleteReturning(ctx, `DELETE FROM search_cache WHERE $1 = ANY(tags) RETURNING cache_key`, tag)
}

func (s *Store) DeleteByProvider(ctx context.Context, provider string) ([]string, error) {
	return s.deleteReturning(ctx, `DELETE FROM search_cache WHERE provider = $1 RETURNING cache_key`, provider)
}

func (s *Store) deleteReturning(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("postgres cache invalidate: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres cache invalidate: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE expires_at <= $1),
		        COALESCE(SUM(octet_length(value)), 0)
		 FROM search_cache`,
		s.clock.Now(),
	).Scan(&stats.Entries, &stats.Expired, &stats.Bytes)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("postgres cache stats: %w", err)
	}
	return stats, nil
}

func (s *Store) Clear(ctx context.Context, expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE expires_at <= $1`, s.clock.Now())
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM search_cache`)
	}
	if err != nil {
		return fmt.Errorf("postgres cache clear: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
