package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

// Tracker records and queries upstream provider attempts.
type Tracker interface {
	// Record stores one attempt.
	Record(ctx context.Context, a models.Attempt) error
	// CountSince returns how many attempts were sent to provider since a given
	// time. An empty provider counts every attempt.
	CountSince(ctx context.Context, provider string, since time.Time) (int64, error)
	// Summary returns attempts aggregated by provider and kind, optionally
	// filtered by provider.
	Summary(ctx context.Context, provider string) ([]models.ProviderSummary, error)
	// Recent returns the latest attempts, newest first.
	Recent(ctx context.Context, limit int) ([]models.Attempt, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db        *sql.DB
	retention time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a SQLiteTracker.
type Option func(*SQLiteTracker)

// WithRetention prunes attempts older than d once an hour. Zero keeps everything.
func WithRetention(d time.Duration) Option {
	return func(t *SQLiteTracker) {
		t.retention = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(t *SQLiteTracker) {
		t.clock = c
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *SQLiteTracker) {
		t.logger = l
	}
}

const createTable = `
CREATE TABLE IF NOT EXISTS attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	kind TEXT NOT NULL,
	cache_key TEXT NOT NULL,
	latency_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	offer_count INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_provider_time ON attempts(provider, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string, opts ...Option) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	t := &SQLiteTracker{
		db:     db,
		clock:  clock.New(),
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.retention > 0 {
		t.wg.Add(1)
		go t.retentionLoop(t.clock.Ticker(time.Hour))
	}
	return t, nil
}

// Record stores an attempt. A zero CreatedAt is stamped with the current time.
func (t *SQLiteTracker) Record(ctx context.Context, a models.Attempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.clock.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO attempts (request_id, provider, kind, cache_key, latency_ms, success, offer_count, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RequestID, a.Provider, string(a.Kind), a.CacheKey, a.LatencyMs, a.Success, a.OfferCount, a.Error, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// CountSince returns the number of attempts for provider since a given time.
func (t *SQLiteTracker) CountSince(ctx context.Context, provider string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM attempts WHERE created_at >= ?`
	args := []any{since.UnixMilli()}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, provider)
	}

	var n int64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// Summary returns attempts aggregated by provider and kind.
func (t *SQLiteTracker) Summary(ctx context.Context, provider string) ([]models.ProviderSummary, error) {
	query := `SELECT provider, kind, COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(latency_ms), 0), COALESCE(SUM(offer_count), 0)
		 FROM attempts`
	var args []any
	if provider != "" {
		query += ` WHERE provider = ?`
		args = append(args, provider)
	}
	query += ` GROUP BY provider, kind ORDER BY provider, kind`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.ProviderSummary
	for rows.Next() {
		var s models.ProviderSummary
		var kind string
		if err := rows.Scan(&s.Provider, &kind, &s.Requests, &s.Successes, &s.AvgLatencyMs, &s.Offers); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Kind = models.SearchKind(kind)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Recent returns up to limit attempts, newest first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit int) ([]models.Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, provider, kind, cache_key, latency_ms, success, offer_count, error, created_at
		 FROM attempts ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		var kind string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Provider, &kind, &a.CacheKey, &a.LatencyMs, &a.Success, &a.OfferCount, &a.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Kind = models.SearchKind(kind)
		a.CreatedAt = time.UnixMilli(createdAt).UTC()
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Prune deletes attempts created before the given time.
func (t *SQLiteTracker) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune attempts: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention loop and releases the database connection.
func (t *SQLiteTracker) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()
	return t.db.Close()
}

func (t *SQLiteTracker) retentionLoop(ticker *clock.Ticker) {
	defer t.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			n, err := t.Prune(context.Background(), t.clock.Now().Add(-t.retention))
			if err != nil {
				t.logger.Warn("attempt retention failed", zap.Error(err))
				continue
			}
			if n > 0 {
				t.logger.Info("pruned attempts", zap.Int64("count", n))
			}
		}
	}
}
