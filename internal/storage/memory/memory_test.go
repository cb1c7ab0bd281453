package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/finsight/newsengine/internal/engine"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newStore() *Store {
	return New(fixedClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)})
}

func TestSourceLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	src := s.AddSource(engine.Source{Name: "wire", URL: "https://example.com", Kind: engine.KindHTML})
	require.Equal(t, int64(1), src.ID)
	require.Equal(t, engine.StatusActive, src.Status)
	require.Equal(t, engine.HealthPending, src.Health)

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, "wire", got.Name)

	n, err := s.IncrementErrorCount(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	n, err = s.IncrementErrorCount(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.ResetErrorCount(ctx, src.ID))
	got, err = s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.Zero(t, got.ErrorCount)

	require.NoError(t, s.SetStatus(ctx, src.ID, engine.StatusPaused))
	active, err := s.ListSources(ctx, engine.StatusActive)
	require.NoError(t, err)
	require.Empty(t, active)

	_, err = s.GetSource(ctx, 99)
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestUpdateHealth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()
	src := s.AddSource(engine.Source{Name: "wire", URL: "https://example.com"})

	at := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateHealth(ctx, src.ID, engine.HealthError, "fetch failed", at))

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, engine.HealthError, got.Health)
	require.Equal(t, "fetch failed", got.ErrorMessage)
	require.Equal(t, "error", got.LastFetchStatus)
	require.Equal(t, at, *got.LastFetchAt)
}

func TestSaveArticleEnforcesHashUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	art := engine.Article{SourceID: 1, URL: "https://example.com/a", Title: "A", ContentHash: "h1"}
	mentions := []engine.StockMention{{Ticker: "AAPL", CompanyName: "Apple"}}
	logs := []engine.ProcessingLog{{Stage: "item_fetched", Status: engine.LogSuccess}}

	id, err := s.SaveArticle(ctx, art, mentions, logs)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	_, err = s.SaveArticle(ctx, engine.Article{URL: "https://example.com/b", ContentHash: "h1"}, nil, nil)
	require.ErrorIs(t, err, engine.ErrDuplicateHash)
	require.Equal(t, 1, s.ArticleCount())

	found, err := s.FindByHash(ctx, "h1")
	require.NoError(t, err)
	require.Equal(t, id, found.ID)

	stored := s.Mentions(id)
	require.Len(t, stored, 1)
	require.Equal(t, id, stored[0].ArticleID)
}

func TestListRecentAndRetention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	old := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.SaveArticle(ctx, engine.Article{ContentHash: "h1", FetchedAt: old}, nil, nil)
	require.NoError(t, err)
	_, err = s.SaveArticle(ctx, engine.Article{ContentHash: "h2", FetchedAt: fresh}, nil, nil)
	require.NoError(t, err)

	recent, err := s.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "h2", recent[0].ContentHash)

	n, err := s.DeleteOlderThan(ctx, time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	_, err = s.FindByHash(ctx, "h1")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestCacheUseCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := newStore().Cache()

	entry := engine.CacheEntry{
		ContentHash: "h1",
		Kind:        engine.ExtractAnalysis,
		Model:       "m",
		Response:    []byte(`{"title":"x"}`),
		UseCount:    1,
		LastUsedAt:  time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, cache.Put(ctx, entry))

	got, err := cache.Get(ctx, "h1", engine.ExtractAnalysis)
	require.NoError(t, err)
	require.Equal(t, 2, got.UseCount)

	got, err = cache.Get(ctx, "h1", engine.ExtractAnalysis)
	require.NoError(t, err)
	require.Equal(t, 3, got.UseCount)

	_, err = cache.Get(ctx, "h1", engine.ExtractEntities)
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestCacheRetention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache := newStore().Cache()

	stale := engine.CacheEntry{ContentHash: "h1", Kind: engine.ExtractAnalysis, LastUsedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, cache.Put(ctx, stale))

	n, err := cache.DeleteOlderThan(ctx, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestAppendLog(t *testing.T) {
	t.Parallel()
	s := newStore()

	require.NoError(t, s.Append(context.Background(), engine.ProcessingLog{SourceID: 1, Stage: "error_handled", Status: engine.LogError, Error: "boom"}))
	logs := s.Logs()
	require.Len(t, logs, 1)
	require.Equal(t, "error_handled", logs[0].Stage)
	require.False(t, logs[0].CreatedAt.IsZero())
}

var (
	_ engine.SourceStore  = (*Store)(nil)
	_ engine.ArticleStore = (*Store)(nil)
	_ engine.LogStore     = (*Store)(nil)
	_ engine.CacheStore   = (*Cache)(nil)
)
