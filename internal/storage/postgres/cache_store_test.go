package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/finsight/newsengine/internal/engine"
)

func TestCacheGetBumpsUseCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCacheStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("UPDATE extraction_cache").
		WithArgs("abc123", "analysis").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "content_hash", "kind", "model", "response", "use_count", "created_at", "last_used_at",
		}).AddRow(int64(5), "abc123", "analysis", "llama3.1", []byte(`{"title":"x"}`), 4, now, now))

	e, err := store.Get(context.Background(), "abc123", engine.ExtractAnalysis)
	require.NoError(t, err)
	require.Equal(t, 4, e.UseCount)
	require.Equal(t, engine.ExtractAnalysis, e.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheGetMiss(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCacheStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("UPDATE extraction_cache").
		WithArgs("missing", "entities").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "content_hash", "kind", "model", "response", "use_count", "created_at", "last_used_at",
		}))

	_, err = store.Get(context.Background(), "missing", engine.ExtractEntities)
	require.ErrorIs(t, err, engine.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCachePutUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCacheStore(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	entry := engine.CacheEntry{
		ContentHash: "abc123",
		Kind:        engine.ExtractEntities,
		Model:       "llama3.1",
		Response:    []byte(`[{"ticker":"AAPL"}]`),
		UseCount:    1,
		CreatedAt:   now,
		LastUsedAt:  now,
	}

	mock.ExpectExec("INSERT INTO extraction_cache").
		WithArgs("abc123", "entities", "llama3.1", entry.Response, 1, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogStoreAppend(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLogStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO processing_logs").
		WithArgs(int64(1), nil, "error_handled", "error", int64(0), "nav timeout").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Append(context.Background(), engine.ProcessingLog{
		SourceID: 1,
		Stage:    "error_handled",
		Status:   engine.LogError,
		Error:    "nav timeout",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
