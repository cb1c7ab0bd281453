package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finsight/newsengine/internal/engine"
)

// SourceStore persists sources in Postgres.
type SourceStore struct {
	pool dbPool
}

// NewSourceStore constructs a store from an existing pool.
func NewSourceStore(pool dbPool) (*SourceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SourceStore{pool: pool}, nil
}

const sourceColumns = `
	id, name, url, kind, status, health, interval_minutes, cron_expression,
	last_fetch_at, last_fetch_status, error_message, error_count,
	extraction_hints, max_items, created_at, updated_at`

func scanSource(row pgx.Row) (engine.Source, error) {
	var s engine.Source
	err := row.Scan(
		&s.ID, &s.Name, &s.URL, &s.Kind, &s.Status, &s.Health,
		&s.IntervalMinutes, &s.CronExpression,
		&s.LastFetchAt, &s.LastFetchStatus, &s.ErrorMessage, &s.ErrorCount,
		&s.ExtractionHints, &s.MaxItems, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

// GetSource loads one source by ID.
func (s *SourceStore) GetSource(ctx context.Context, id int64) (engine.Source, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+sourceColumns+` FROM sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Source{}, fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return engine.Source{}, fmt.Errorf("get source %d: %w", id, err)
	}
	return src, nil
}

// ListSources returns sources with the given status; empty status
// means every source that is not deleted.
func (s *SourceStore) ListSources(ctx context.Context, status engine.SourceStatus) ([]engine.Source, error) {
	query := `SELECT` + sourceColumns + ` FROM sources WHERE status = $1 ORDER BY id`
	arg := string(status)
	if status == "" {
		query = `SELECT` + sourceColumns + ` FROM sources WHERE status <> $1 ORDER BY id`
		arg = string(engine.StatusDeleted)
	}

	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []engine.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// UpdateHealth writes health, error message, and last-fetch fields.
func (s *SourceStore) UpdateHealth(ctx context.Context, id int64, health engine.HealthStatus, errMsg string, fetchedAt time.Time) error {
	fetchStatus := "success"
	if health == engine.HealthError {
		fetchStatus = "error"
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE sources
SET health = $2, error_message = $3, last_fetch_at = $4, last_fetch_status = $5, updated_at = now()
WHERE id = $1`,
		id, string(health), errMsg, fetchedAt, fetchStatus)
	if err != nil {
		return fmt.Errorf("update source %d health: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	return nil
}

// IncrementErrorCount bumps the consecutive error counter and returns
// the new value.
func (s *SourceStore) IncrementErrorCount(ctx context.Context, id int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
UPDATE sources SET error_count = error_count + 1, updated_at = now()
WHERE id = $1
RETURNING error_count`, id).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment source %d errors: %w", id, err)
	}
	return count, nil
}

// ResetErrorCount zeroes the consecutive error counter.
func (s *SourceStore) ResetErrorCount(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE sources SET error_count = 0, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset source %d errors: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	return nil
}

// SetStatus updates the lifecycle status.
func (s *SourceStore) SetStatus(ctx context.Context, id int64, status engine.SourceStatus) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE sources SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set source %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	return nil
}
