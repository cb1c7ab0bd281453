package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finsight/newsengine/internal/engine"
)

// ArticleStore persists articles, their mentions, and stage logs.
type ArticleStore struct {
	pool dbPool
}

// NewArticleStore constructs a store from an existing pool.
func NewArticleStore(pool dbPool) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ArticleStore{pool: pool}, nil
}

// FindByHash looks up an article by its content hash.
func (s *ArticleStore) FindByHash(ctx context.Context, contentHash string) (engine.Article, error) {
	var (
		a       engine.Article
		rawMeta []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, source_id, url, title, summary, topic, author, published_at,
       high_impact, content_hash, raw_metadata, fetched_at
FROM articles WHERE content_hash = $1`, contentHash).Scan(
		&a.ID, &a.SourceID, &a.URL, &a.Title, &a.Summary, &a.Topic, &a.Author,
		&a.PublishedAt, &a.HighImpact, &a.ContentHash, &rawMeta, &a.FetchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Article{}, fmt.Errorf("hash %s: %w", contentHash, engine.ErrNotFound)
	}
	if err != nil {
		return engine.Article{}, fmt.Errorf("find article by hash: %w", err)
	}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &a.RawMetadata); err != nil {
			return engine.Article{}, fmt.Errorf("decode article metadata: %w", err)
		}
	}
	return a, nil
}

// SaveArticle inserts the article, its mentions, and its stage logs in
// one transaction. The content_hash unique constraint is the
// authoritative dedup guard; a violation maps to ErrDuplicateHash.
func (s *ArticleStore) SaveArticle(ctx context.Context, article engine.Article, mentions []engine.StockMention, logs []engine.ProcessingLog) (int64, error) {
	rawMeta, err := json.Marshal(article.RawMetadata)
	if err != nil {
		return 0, fmt.Errorf("marshal article metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin article tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var articleID int64
	err = tx.QueryRow(ctx, `
INSERT INTO articles (
	source_id, url, title, summary, topic, author, published_at,
	high_impact, content_hash, raw_metadata, fetched_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`,
		article.SourceID, article.URL, article.Title, article.Summary,
		article.Topic, article.Author, article.PublishedAt, article.HighImpact,
		article.ContentHash, rawMeta, article.FetchedAt,
	).Scan(&articleID)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("hash %s: %w", article.ContentHash, engine.ErrDuplicateHash)
	}
	if err != nil {
		return 0, fmt.Errorf("insert article: %w", err)
	}

	for _, m := range mentions {
		_, err := tx.Exec(ctx, `
INSERT INTO stock_mentions (
	article_id, ticker, company_name, exchange, segment,
	sentiment, sentiment_label, confidence, snippet
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			articleID, m.Ticker, m.CompanyName, m.Exchange, m.Segment,
			m.Sentiment, m.Label, m.Confidence, m.Snippet)
		if err != nil {
			return 0, fmt.Errorf("insert mention %s: %w", m.Ticker, err)
		}
	}

	for _, l := range logs {
		_, err := tx.Exec(ctx, `
INSERT INTO processing_logs (source_id, article_id, stage, status, duration_ms, error_message)
VALUES ($1, $2, $3, $4, $5, $6)`,
			l.SourceID, articleID, l.Stage, string(l.Status), l.Duration.Milliseconds(), l.Error)
		if err != nil {
			return 0, fmt.Errorf("insert processing log %s: %w", l.Stage, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit article tx: %w", err)
	}
	return articleID, nil
}

// ListRecent returns the newest articles by fetch time.
func (s *ArticleStore) ListRecent(ctx context.Context, limit int) ([]engine.Article, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, source_id, url, title, summary, topic, author, published_at,
       high_impact, content_hash, raw_metadata, fetched_at
FROM articles ORDER BY fetched_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []engine.Article
	for rows.Next() {
		var (
			a       engine.Article
			rawMeta []byte
		)
		err := rows.Scan(
			&a.ID, &a.SourceID, &a.URL, &a.Title, &a.Summary, &a.Topic, &a.Author,
			&a.PublishedAt, &a.HighImpact, &a.ContentHash, &rawMeta, &a.FetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &a.RawMetadata); err != nil {
				return nil, fmt.Errorf("decode article metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes articles fetched before cutoff; mentions
// and logs cascade at the schema level.
func (s *ArticleStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM articles WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old articles: %w", err)
	}
	return tag.RowsAffected(), nil
}
