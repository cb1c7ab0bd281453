package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/finsight/newsengine/internal/engine"
)

func testArticle() engine.Article {
	return engine.Article{
		SourceID:    1,
		URL:         "https://example.com/news/story",
		Title:       "Earnings beat",
		Summary:     "Shares rose.",
		Topic:       "earnings",
		Author:      "Pat Kim",
		ContentHash: "abc123",
		RawMetadata: map[string]string{"og:title": "Earnings beat"},
		FetchedAt:   time.Unix(1700000000, 0).UTC(),
	}
}

func TestSaveArticleCommitsAllRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStore(mock)
	require.NoError(t, err)

	art := testArticle()
	mentions := []engine.StockMention{
		{Ticker: "AAPL", CompanyName: "Apple", Sentiment: 0.6, Label: "positive", Confidence: 0.9, Snippet: "Apple rose"},
	}
	logs := []engine.ProcessingLog{
		{SourceID: 1, Stage: "item_fetched", Status: engine.LogSuccess, Duration: 1200 * time.Millisecond},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO articles").
		WithArgs(
			art.SourceID, art.URL, art.Title, art.Summary, art.Topic, art.Author,
			art.PublishedAt, art.HighImpact, art.ContentHash,
			[]byte(`{"og:title":"Earnings beat"}`), art.FetchedAt,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec("INSERT INTO stock_mentions").
		WithArgs(int64(11), "AAPL", "Apple", "", "", 0.6, "positive", 0.9, "Apple rose").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO processing_logs").
		WithArgs(int64(1), int64(11), "item_fetched", "success", int64(1200), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	id, err := store.SaveArticle(context.Background(), art, mentions, logs)
	require.NoError(t, err)
	require.Equal(t, int64(11), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveArticleDuplicateHash(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStore(mock)
	require.NoError(t, err)

	art := testArticle()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO articles").
		WithArgs(
			art.SourceID, art.URL, art.Title, art.Summary, art.Topic, art.Author,
			art.PublishedAt, art.HighImpact, art.ContentHash,
			[]byte(`{"og:title":"Earnings beat"}`), art.FetchedAt,
		).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "articles_content_hash_key"})
	mock.ExpectRollback()

	_, err = store.SaveArticle(context.Background(), art, nil, nil)
	require.ErrorIs(t, err, engine.ErrDuplicateHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByHash(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT(.|\n)+FROM articles WHERE content_hash").
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source_id", "url", "title", "summary", "topic", "author",
			"published_at", "high_impact", "content_hash", "raw_metadata", "fetched_at",
		}).AddRow(
			int64(11), int64(1), "https://example.com/news/story", "Earnings beat",
			"Shares rose.", "earnings", "Pat Kim", (*time.Time)(nil), false, "abc123",
			[]byte(`{"og:title":"Earnings beat"}`), now,
		))

	a, err := store.FindByHash(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, int64(11), a.ID)
	require.Equal(t, "Earnings beat", a.RawMetadata["og:title"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByHashMiss(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT(.|\n)+FROM articles WHERE content_hash").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source_id", "url", "title", "summary", "topic", "author",
			"published_at", "high_impact", "content_hash", "raw_metadata", "fetched_at",
		}))

	_, err = store.FindByHash(context.Background(), "missing")
	require.ErrorIs(t, err, engine.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteOlderThan(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStore(mock)
	require.NoError(t, err)

	cutoff := time.Unix(1690000000, 0).UTC()
	mock.ExpectExec("DELETE FROM articles WHERE fetched_at").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := store.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
