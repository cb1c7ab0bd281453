package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finsight/newsengine/internal/engine"
)

// CacheStore persists extraction results keyed by (hash, kind).
type CacheStore struct {
	pool dbPool
}

// NewCacheStore constructs a store from an existing pool.
func NewCacheStore(pool dbPool) (*CacheStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CacheStore{pool: pool}, nil
}

// Get returns the entry for (hash, kind), bumping use_count and
// last_used_at in the same statement.
func (s *CacheStore) Get(ctx context.Context, contentHash string, kind engine.ExtractionKind) (engine.CacheEntry, error) {
	var e engine.CacheEntry
	err := s.pool.QueryRow(ctx, `
UPDATE extraction_cache
SET use_count = use_count + 1, last_used_at = now()
WHERE content_hash = $1 AND kind = $2
RETURNING id, content_hash, kind, model, response, use_count, created_at, last_used_at`,
		contentHash, string(kind)).Scan(
		&e.ID, &e.ContentHash, &e.Kind, &e.Model, &e.Response,
		&e.UseCount, &e.CreatedAt, &e.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.CacheEntry{}, fmt.Errorf("cache %s/%s: %w", contentHash, kind, engine.ErrNotFound)
	}
	if err != nil {
		return engine.CacheEntry{}, fmt.Errorf("get cache entry: %w", err)
	}
	return e, nil
}

// Put upserts the entry for (hash, kind), never duplicating the key.
func (s *CacheStore) Put(ctx context.Context, entry engine.CacheEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO extraction_cache (content_hash, kind, model, response, use_count, created_at, last_used_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (content_hash, kind) DO UPDATE
SET model = EXCLUDED.model, response = EXCLUDED.response, last_used_at = EXCLUDED.last_used_at`,
		entry.ContentHash, string(entry.Kind), entry.Model, entry.Response,
		entry.UseCount, entry.CreatedAt, entry.LastUsedAt)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// DeleteOlderThan removes entries unused since cutoff.
func (s *CacheStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extraction_cache WHERE last_used_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
