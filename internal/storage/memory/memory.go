// Package memory provides in-process store implementations used for
// tests and single-node deployments without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finsight/newsengine/internal/engine"
)

// Store holds all persistent state behind one mutex.
type Store struct {
	clock engine.Clock

	mu        sync.Mutex
	sources   map[int64]engine.Source
	articles  map[int64]engine.Article
	byHash    map[string]int64
	mentions  map[int64][]engine.StockMention
	cache     map[string]engine.CacheEntry
	logs      []engine.ProcessingLog
	nextSrcID int64
	nextArtID int64
}

// New creates an empty Store.
func New(clock engine.Clock) *Store {
	return &Store{
		clock:     clock,
		sources:   make(map[int64]engine.Source),
		articles:  make(map[int64]engine.Article),
		byHash:    make(map[string]int64),
		mentions:  make(map[int64][]engine.StockMention),
		cache:     make(map[string]engine.CacheEntry),
		nextSrcID: 1,
		nextArtID: 1,
	}
}

func cacheKey(hash string, kind engine.ExtractionKind) string {
	return hash + "|" + string(kind)
}

// AddSource inserts a source and returns its assigned ID.
func (s *Store) AddSource(src engine.Source) engine.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	src.ID = s.nextSrcID
	s.nextSrcID++
	now := s.clock.Now()
	src.CreatedAt = now
	src.UpdatedAt = now
	if src.Health == "" {
		src.Health = engine.HealthPending
	}
	if src.Status == "" {
		src.Status = engine.StatusActive
	}
	s.sources[src.ID] = src
	return src
}

// GetSource returns the source with the given ID.
func (s *Store) GetSource(_ context.Context, id int64) (engine.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return engine.Source{}, fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	return src, nil
}

// ListSources returns sources with the given status; an empty status
// returns everything not deleted.
func (s *Store) ListSources(_ context.Context, status engine.SourceStatus) ([]engine.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.Source
	for _, src := range s.sources {
		if status == "" && src.Status != engine.StatusDeleted {
			out = append(out, src)
		} else if src.Status == status {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateHealth sets health, error message, and last-fetch bookkeeping.
func (s *Store) UpdateHealth(_ context.Context, id int64, health engine.HealthStatus, errMsg string, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	src.Health = health
	src.ErrorMessage = errMsg
	src.LastFetchAt = &fetchedAt
	if health == engine.HealthError {
		src.LastFetchStatus = "error"
	} else {
		src.LastFetchStatus = "success"
	}
	src.UpdatedAt = s.clock.Now()
	s.sources[id] = src
	return nil
}

// IncrementErrorCount bumps the consecutive error counter and returns
// the new value.
func (s *Store) IncrementErrorCount(_ context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return 0, fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	src.ErrorCount++
	src.UpdatedAt = s.clock.Now()
	s.sources[id] = src
	return src.ErrorCount, nil
}

// ResetErrorCount zeroes the consecutive error counter.
func (s *Store) ResetErrorCount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	src.ErrorCount = 0
	src.UpdatedAt = s.clock.Now()
	s.sources[id] = src
	return nil
}

// SetStatus updates the lifecycle status.
func (s *Store) SetStatus(_ context.Context, id int64, status engine.SourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %d: %w", id, engine.ErrNotFound)
	}
	src.Status = status
	src.UpdatedAt = s.clock.Now()
	s.sources[id] = src
	return nil
}

// FindByHash returns the article with the given content hash.
func (s *Store) FindByHash(_ context.Context, contentHash string) (engine.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byHash[contentHash]
	if !ok {
		return engine.Article{}, fmt.Errorf("hash %s: %w", contentHash, engine.ErrNotFound)
	}
	return s.articles[id], nil
}

// SaveArticle writes the article, mentions, and logs atomically,
// enforcing the content-hash uniqueness constraint.
func (s *Store) SaveArticle(_ context.Context, article engine.Article, mentions []engine.StockMention, logs []engine.ProcessingLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[article.ContentHash]; exists {
		return 0, fmt.Errorf("hash %s: %w", article.ContentHash, engine.ErrDuplicateHash)
	}
	article.ID = s.nextArtID
	s.nextArtID++
	s.articles[article.ID] = article
	s.byHash[article.ContentHash] = article.ID

	stored := make([]engine.StockMention, len(mentions))
	copy(stored, mentions)
	for i := range stored {
		stored[i].ArticleID = article.ID
	}
	s.mentions[article.ID] = stored

	for _, l := range logs {
		l.ArticleID = article.ID
		s.logs = append(s.logs, l)
	}
	return article.ID, nil
}

// ListRecent returns the newest articles by fetch time.
func (s *Store) ListRecent(_ context.Context, limit int) ([]engine.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Article, 0, len(s.articles))
	for _, a := range s.articles {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.After(out[j].FetchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteOlderThan removes articles fetched before cutoff.
func (s *Store) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.articles {
		if a.FetchedAt.Before(cutoff) {
			delete(s.articles, id)
			delete(s.byHash, a.ContentHash)
			delete(s.mentions, id)
			n++
		}
	}
	return n, nil
}

// Mentions returns the mentions stored for an article. Test helper.
func (s *Store) Mentions(articleID int64) []engine.StockMention {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.StockMention(nil), s.mentions[articleID]...)
}

// ArticleCount returns the number of stored articles. Test helper.
func (s *Store) ArticleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.articles)
}

// Cache returns the engine.CacheStore view of this store. Articles
// and cache entries both expire by age, so the view keeps the two
// DeleteOlderThan operations apart.
func (s *Store) Cache() *Cache {
	return &Cache{s: s}
}

// Cache is the engine.CacheStore view of a Store.
type Cache struct {
	s *Store
}

// Get returns the entry for (hash, kind), bumping its use counter.
func (c *Cache) Get(_ context.Context, contentHash string, kind engine.ExtractionKind) (engine.CacheEntry, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	key := cacheKey(contentHash, kind)
	e, ok := c.s.cache[key]
	if !ok {
		return engine.CacheEntry{}, fmt.Errorf("cache %s/%s: %w", contentHash, kind, engine.ErrNotFound)
	}
	e.UseCount++
	e.LastUsedAt = c.s.clock.Now()
	c.s.cache[key] = e
	return e, nil
}

// Put upserts the entry for (hash, kind).
func (c *Cache) Put(_ context.Context, entry engine.CacheEntry) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.cache[cacheKey(entry.ContentHash, entry.Kind)] = entry
	return nil
}

// DeleteOlderThan removes entries unused since cutoff.
func (c *Cache) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var n int64
	for key, e := range c.s.cache {
		if e.LastUsedAt.Before(cutoff) {
			delete(c.s.cache, key)
			n++
		}
	}
	return n, nil
}

// Append records a processing log row.
func (s *Store) Append(_ context.Context, log engine.ProcessingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.CreatedAt = s.clock.Now()
	s.logs = append(s.logs, log)
	return nil
}

// Logs returns a copy of all log rows. Test helper.
func (s *Store) Logs() []engine.ProcessingLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.ProcessingLog(nil), s.logs...)
}
