package engine

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientContent signals a fetch that technically succeeded
// but yielded too little readable text; callers escalate tiers.
var ErrInsufficientContent = errors.New("insufficient content")

// ErrNotFound signals a lookup miss at the storage layer.
var ErrNotFound = errors.New("not found")

// ErrDuplicateHash signals an insert that collided with the content
// hash uniqueness constraint.
var ErrDuplicateHash = errors.New("duplicate content hash")

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string, opts FetchOptions) (FetchResult, error)
}

// FeedReader parses a syndication feed into items.
type FeedReader interface {
	Read(ctx context.Context, feedURL string, maxItems int) ([]FeedItem, error)
}

// TranscriptProvider fetches the transcript text for a video URL.
type TranscriptProvider interface {
	Transcript(ctx context.Context, videoURL string) (string, error)
}

// Discoverer classifies a fetched page and extracts item links.
type Discoverer interface {
	Discover(ctx context.Context, pageURL, rawHTML string, screenshot []byte, hints string) (DiscoveryResult, error)
}

// Extractor mediates the model-inference service.
type Extractor interface {
	Analyze(ctx context.Context, contentHash, content, hints string) (Analysis, error)
	Entities(ctx context.Context, contentHash, title, content string) ([]StockMention, error)
	NeedsScreenshot() bool
}

// SourceStore persists sources and their health bookkeeping.
type SourceStore interface {
	GetSource(ctx context.Context, id int64) (Source, error)
	ListSources(ctx context.Context, status SourceStatus) ([]Source, error)
	UpdateHealth(ctx context.Context, id int64, health HealthStatus, errMsg string, fetchedAt time.Time) error
	IncrementErrorCount(ctx context.Context, id int64) (int, error)
	ResetErrorCount(ctx context.Context, id int64) error
	SetStatus(ctx context.Context, id int64, status SourceStatus) error
}

// ArticleStore persists articles with their mentions and stage logs.
// SaveArticle writes everything in one transaction and returns
// ErrDuplicateHash when the content hash already exists.
type ArticleStore interface {
	FindByHash(ctx context.Context, contentHash string) (Article, error)
	SaveArticle(ctx context.Context, article Article, mentions []StockMention, logs []ProcessingLog) (int64, error)
	ListRecent(ctx context.Context, limit int) ([]Article, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CacheStore persists extraction results keyed by (hash, kind). Get
// bumps the use counter on every hit.
type CacheStore interface {
	Get(ctx context.Context, contentHash string, kind ExtractionKind) (CacheEntry, error)
	Put(ctx context.Context, entry CacheEntry) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LogStore appends processing log rows outside the article
// transaction, used by error handling.
type LogStore interface {
	Append(ctx context.Context, log ProcessingLog) error
}

// Hasher digests normalized text.
type Hasher interface {
	Sum(text string) string
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// Limiter gates outbound fetches by target.
type Limiter interface {
	Wait(ctx context.Context, pageURL string) error
}
