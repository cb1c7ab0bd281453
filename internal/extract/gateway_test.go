package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeCache is an in-memory engine.CacheStore for gateway tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]engine.CacheEntry
	hits    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]engine.CacheEntry)}
}

func cacheKey(hash string, kind engine.ExtractionKind) string {
	return hash + "|" + string(kind)
}

func (c *fakeCache) Get(_ context.Context, hash string, kind engine.ExtractionKind) (engine.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(hash, kind)]
	if !ok {
		return engine.CacheEntry{}, engine.ErrNotFound
	}
	e.UseCount++
	c.entries[cacheKey(hash, kind)] = e
	c.hits++
	return e, nil
}

func (c *fakeCache) Put(_ context.Context, entry engine.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(entry.ContentHash, entry.Kind)] = entry
	return nil
}

func (c *fakeCache) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// inferenceStub serves canned responses and counts calls.
type inferenceStub struct {
	mu       sync.Mutex
	response string
	status   int
	calls    int
}

func (s *inferenceStub) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls++
	resp, status := s.response, s.status
	s.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	envelope, _ := json.Marshal(map[string]string{"response": resp})
	w.Header().Set("Content-Type", "application/json")
	w.Write(envelope)
}

func (s *inferenceStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newGateway(t *testing.T, stub *inferenceStub, cache engine.CacheStore) *Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{Host: srv.URL, Timeout: 5 * time.Second, Temperature: 0.1}, zap.NewNop())
	models := Models{Analysis: "test-model", Entities: "test-model", LinkExtractor: "llava"}
	return NewGateway(client, cache, models, fixedClock{t: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func TestAnalyzeParsesResponse(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: `{"title":"Fed holds rates","summary":"No change.","topic":"macro","author":"Pat Kim","published_at":"2026-07-30T10:00:00Z","high_impact":true}`}
	g := newGateway(t, stub, nil)

	a, err := g.Analyze(context.Background(), "hash1", "article body", "")
	require.NoError(t, err)
	require.Equal(t, "Fed holds rates", a.Title)
	require.True(t, a.HighImpact)
	require.NotNil(t, a.PublishedAt)
	require.Equal(t, 2026, a.PublishedAt.Year())
}

func TestAnalyzeMalformedIsFatal(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: "I could not analyze this article."}
	g := newGateway(t, stub, nil)

	_, err := g.Analyze(context.Background(), "hash1", "article body", "")
	require.Error(t, err)
}

func TestAnalyzeMissingTitleIsFatal(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: `{"summary":"only a summary"}`}
	g := newGateway(t, stub, nil)

	_, err := g.Analyze(context.Background(), "hash1", "article body", "")
	require.Error(t, err)
}

func TestAnalyzeCacheHitSkipsService(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: `{"title":"Cached story","summary":"s"}`}
	cache := newFakeCache()
	g := newGateway(t, stub, cache)

	_, err := g.Analyze(context.Background(), "hash1", "article body", "")
	require.NoError(t, err)
	require.Equal(t, 1, stub.callCount())

	a, err := g.Analyze(context.Background(), "hash1", "article body", "")
	require.NoError(t, err)
	require.Equal(t, "Cached story", a.Title)
	require.Equal(t, 1, stub.callCount())
	require.Equal(t, 1, cache.hits)
}

func TestEntitiesValidation(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: `[
		{"ticker":" aapl ","company_name":"Apple Inc.","sentiment":3.5,"confidence":-2,"snippet":"Apple gained."},
		{"ticker":"","company_name":"No Ticker Corp"},
		{"ticker":"MSFT","company_name":"","snippet":"dropped"},
		{"ticker":"NVDA","company_name":"NVIDIA","sentiment":"not a number","confidence":"0.9"}
	]`}
	g := newGateway(t, stub, nil)

	mentions, err := g.Entities(context.Background(), "hash1", "title", "body")
	require.NoError(t, err)
	require.Len(t, mentions, 2)

	require.Equal(t, "AAPL", mentions[0].Ticker)
	require.InDelta(t, 1.0, mentions[0].Sentiment, 1e-9)
	require.InDelta(t, 0.0, mentions[0].Confidence, 1e-9)

	require.Equal(t, "NVDA", mentions[1].Ticker)
	require.InDelta(t, 0.0, mentions[1].Sentiment, 1e-9) // unparseable falls back
	require.InDelta(t, 0.9, mentions[1].Confidence, 1e-9)
}

func TestEntitiesSnippetTruncated(t *testing.T) {
	t.Parallel()

	long := ""
	for len(long) < 1000 {
		long += "snippet text "
	}
	stub := &inferenceStub{response: fmt.Sprintf(`[{"ticker":"T","company_name":"C","snippet":%q}]`, long)}
	g := newGateway(t, stub, nil)

	mentions, err := g.Entities(context.Background(), "hash1", "title", "body")
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	require.LessOrEqual(t, len(mentions[0].Snippet), maxSnippetChars)
}

func TestEntitiesMalformedDegradesToEmpty(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: "no entities for you"}
	g := newGateway(t, stub, nil)

	mentions, err := g.Entities(context.Background(), "hash1", "title", "body")
	require.NoError(t, err)
	require.Empty(t, mentions)
}

func TestEntitiesServiceErrorDegradesToEmpty(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{status: http.StatusInternalServerError}
	g := newGateway(t, stub, nil)

	mentions, err := g.Entities(context.Background(), "hash1", "title", "body")
	require.NoError(t, err)
	require.Empty(t, mentions)
}

func TestEntitiesWrappedListUnwrapped(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: `{"stocks":[{"ticker":"TSLA","company_name":"Tesla","sentiment":-0.4,"confidence":0.8}]}`}
	g := newGateway(t, stub, nil)

	mentions, err := g.Entities(context.Background(), "hash1", "title", "body")
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	require.Equal(t, "TSLA", mentions[0].Ticker)
	require.InDelta(t, -0.4, mentions[0].Sentiment, 1e-9)
}

func TestPickContainer(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: `{"index": 2}`}
	g := newGateway(t, stub, nil)

	idx, err := g.PickContainer(context.Background(), []byte{0x89}, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, 2, idx)
}

func TestPickContainerOutOfRange(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{response: `{"index": 9}`}
	g := newGateway(t, stub, nil)

	idx, err := g.PickContainer(context.Background(), []byte{0x89}, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, -1, idx)
}

func TestNeedsScreenshot(t *testing.T) {
	t.Parallel()

	stub := &inferenceStub{}
	g := newGateway(t, stub, nil) // link extractor is "llava"
	require.True(t, g.NeedsScreenshot())

	client := NewClient(ClientConfig{Host: "http://localhost:1"}, zap.NewNop())
	plain := NewGateway(client, nil, Models{LinkExtractor: "llama3.1"}, fixedClock{}, zap.NewNop())
	require.False(t, plain.NeedsScreenshot())
}

func TestClientHealthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Host: srv.URL}, zap.NewNop())
	require.True(t, c.Healthy(context.Background()))

	down := NewClient(ClientConfig{Host: "http://127.0.0.1:1", Timeout: time.Second}, zap.NewNop())
	require.False(t, down.Healthy(context.Background()))
}
