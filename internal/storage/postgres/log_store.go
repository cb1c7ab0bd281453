package postgres

import (
	"context"
	"fmt"

	"github.com/finsight/newsengine/internal/engine"
)

// LogStore appends processing log rows outside any article
// transaction, used by error handling.
type LogStore struct {
	pool dbPool
}

// NewLogStore constructs a store from an existing pool.
func NewLogStore(pool dbPool) (*LogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &LogStore{pool: pool}, nil
}

// Append records one processing log row.
func (s *LogStore) Append(ctx context.Context, log engine.ProcessingLog) error {
	var articleID any
	if log.ArticleID != 0 {
		articleID = log.ArticleID
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO processing_logs (source_id, article_id, stage, status, duration_ms, error_message)
VALUES ($1, $2, $3, $4, $5, $6)`,
		log.SourceID, articleID, log.Stage, string(log.Status), log.Duration.Milliseconds(), log.Error)
	if err != nil {
		return fmt.Errorf("append processing log: %w", err)
	}
	return nil
}
