package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	_ "modernc.org/sqlite"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

// Store is a persistent search cache backed by SQLite.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS search_cache (
	cache_key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_search_cache_expires ON search_cache(expires_at);
`

// labelColumns are added to caches created before entries carried labels.
var labelColumns = []struct{ name, ddl string }{
	{"provider", `ALTER TABLE search_cache ADD COLUMN provider TEXT NOT NULL DEFAULT ''`},
	{"tags", `ALTER TABLE search_cache ADD COLUMN tags TEXT NOT NULL DEFAULT '[]'`},
}

// Option configures a Store.
type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// New opens (or creates) the cache database at dbPath.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	for _, col := range labelColumns {
		if columnExists(db, "search_cache", col.name) {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("add %s column: %w", col.name, err)
		}
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_search_cache_provider ON search_cache(provider)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	s := &Store{db: db, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get retrieves a cached value and its labels. Expired rows report a miss.
func (s *Store) Get(ctx context.Context, key string) (models.StoredValue, bool, error) {
	var sv models.StoredValue
	var expiresAt int64
	var tags string

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at, provider, tags FROM search_cache WHERE cache_key = ?`, key,
	).Scan(&sv.Value, &expiresAt, &sv.Provider, &tags)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StoredValue{}, false, nil
	}
	if err != nil {
		return models.StoredValue{}, false, fmt.Errorf("cache get: %w", err)
	}

	sv.ExpiresAt = time.UnixMilli(expiresAt)
	if !s.clock.Now().Before(sv.ExpiresAt) {
		return models.StoredValue{}, false, nil
	}
	if err := json.Unmarshal([]byte(tags), &sv.Tags); err != nil {
		return models.StoredValue{}, false, fmt.Errorf("cache get tags: %w", err)
	}
	return sv, true, nil
}

// Put stores a value and its labels that expire after ttl.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration, labels models.CacheLabels) error {
	tags := labels.Tags
	if tags == nil {
		tags = []string{}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("cache put tags: %w", err)
	}

	now := s.clock.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO search_cache (cache_key, value, created_at, expires_at, provider, tags)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, value, now.UnixMilli(), now.Add(ttl).UnixMilli(), labels.Provider, string(tagJSON),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete removes a single key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeleteByTag removes every row tagged with tag and returns the removed keys.
func (s *Store) DeleteByTag(ctx context.Context, tag string) ([]string, error) {
	return s.deleteReturning(ctx,
		`DELETE FROM search_cache
		 WHERE EXISTS (SELECT 1 FROM json_each(search_cache.tags) WHERE json_each.value = ?)
		 RETURNING cache_key`, tag)
}

// DeleteByProvider removes every row attributed to provider and returns the removed keys.
func (s *Store) DeleteByProvider(ctx context.Context, provider string) ([]string, error) {
	return s.deleteReturning(ctx, `DELETE FROM search_cache WHERE provider = ? RETURNING cache_key`, provider)
}

func (s *Store) deleteReturning(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("cache invalidate: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan invalidated key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Stats returns row counts and the total stored payload size.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(LENGTH(value)), 0)
		 FROM search_cache`,
		s.clock.Now().UnixMilli(),
	).Scan(&stats.Entries, &stats.Expired, &stats.Bytes)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE expires_at <= ?`, s.clock.Now().UnixMilli())
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM search_cache`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}
