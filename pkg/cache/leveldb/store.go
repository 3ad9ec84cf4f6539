// Package leveldb is a persistent search cache store on goleveldb.
//
// Each key is written as two records in one batch: "e:<key>" holds the
// payload and "m:<key>" holds a gob-encoded meta record with its expiry,
// provider and tags. Stats, clears and invalidation scan the meta records alone.
package leveldb

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/wayfare-ai/wayfare/pkg/models"
)

var metaPrefix = []byte("m:")

type meta struct {
	Size      int64
	CreatedAt int64
	ExpiresAt int64
	Provider  string
	Tags      []string
}

// Store is a persistent search cache backed by a LevelDB directory.
type Store struct {
	db    *leveldb.DB
	clock clock.Clock
}

// Option configures a Store.
type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// Open opens (or creates) the LevelDB database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb cache: %w", err)
	}
	s := &Store{db: db, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) (models.StoredValue, bool, error) {
	mb, err := s.db.Get(metaKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return models.StoredValue{}, false, nil
	}
	if err != nil {
		return models.StoredValue{}, false, fmt.Errorf("leveldb get meta: %w", err)
	}
	var m meta
	if err := decodeGob(mb, &m); err != nil {
		return models.StoredValue{}, false, fmt.Errorf("leveldb decode meta: %w", err)
	}
	exp := time.UnixMilli(m.ExpiresAt)
	if !s.clock.Now().Before(exp) {
		return models.StoredValue{}, false, nil
	}

	value, err := s.db.Get(entryKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return models.StoredValue{}, false, nil
	}
	if err != nil {
		return models.StoredValue{}, false, fmt.Errorf("leveldb get: %w", err)
	}
	return models.StoredValue{
		Value:       value,
		ExpiresAt:   exp,
		CacheLabels: models.CacheLabels{Provider: m.Provider, Tags: m.Tags},
	}, true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration, labels models.CacheLabels) error {
	now := s.clock.Now()
	mb, err := encodeGob(meta{
		Size:      int64(len(value)),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
		Provider:  labels.Provider,
		Tags:      labels.Tags,
	})
	if err != nil {
		return fmt.Errorf("leveldb encode meta: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(entryKey(key), value)
	batch.Put(metaKey(key), mb)
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	batch := new(leveldb.Batch)
	batch.Delete(entryKey(key))
	batch.Delete(metaKey(key))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// DeleteByTag removes every entry whose meta record carries tag.
func (s *Store) DeleteByTag(_ context.Context, tag string) ([]string, error) {
	return s.deleteWhere(func(m meta) bool { return slices.Contains(m.Tags, tag) })
}

// DeleteByProvider removes every entry whose meta record names provider.
func (s *Store) DeleteByProvider(_ context.Context, provider string) ([]string, error) {
	return s.deleteWhere(func(m meta) bool { return m.Provider == provider })
}

func (s *Store) deleteWhere(match func(meta) bool) ([]string, error) {
	var keys []string
	batch := new(leveldb.Batch)
	err := s.scan(func(key string, m meta) {
		if !match(m) {
			return
		}
		batch.Delete(entryKey(key))
		batch.Delete(metaKey(key))
		keys = append(keys, key)
	})
	if err != nil {
		return nil, fmt.Errorf("leveldb invalidate: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("leveldb invalidate: %w", err)
	}
	return keys, nil
}

func (s *Store) Stats(_ context.Context) (models.CacheStats, error) {
	var stats models.CacheStats
	now := s.clock.Now().UnixMilli()
	err := s.scan(func(_ string, m meta) {
		stats.Entries++
		stats.Bytes += m.Size
		if m.ExpiresAt <= now {
			stats.Expired++
		}
	})
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("leveldb stats: %w", err)
	}
	return stats, nil
}

func (s *Store) Clear(_ context.Context, expiredOnly bool) error {
	now := s.clock.Now().UnixMilli()
	batch := new(leveldb.Batch)
	err := s.scan(func(key string, m meta) {
		if expiredOnly && m.ExpiresAt > now {
			return
		}
		batch.Delete(entryKey(key))
		batch.Delete(metaKey(key))
	})
	if err != nil {
		return fmt.Errorf("leveldb clear: %w", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb clear: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// scan visits every readable meta record. Undecodable records are skipped.
func (s *Store) scan(fn func(key string, m meta)) error {
	it := s.db.NewIterator(util.BytesPrefix(metaPrefix), nil)
	defer it.Release()
	for it.Next() {
		var m meta
		if err := decodeGob(it.Value(), &m); err != nil {
			continue
		}
		fn(string(bytes.TrimPrefix(it.Key(), metaPrefix)), m)
	}
	return it.Error()
}

func entryKey(key string) []byte { return []byte("e:" + key) }

func metaKey(key string) []byte { return []byte("m:" + key) }

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
