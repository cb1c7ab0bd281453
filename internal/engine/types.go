// Package engine defines the core types and ports shared across the
// ingestion subsystems.
package engine

import "time"

// SourceKind tells the pipeline how to treat a source's origin URL.
type SourceKind string

const (
	KindHTML  SourceKind = "html"
	KindFeed  SourceKind = "feed"
	KindVideo SourceKind = "video"
)

// SourceStatus is the source lifecycle state.
type SourceStatus string

const (
	StatusActive  SourceStatus = "active"
	StatusPaused  SourceStatus = "paused"
	StatusDeleted SourceStatus = "deleted"
)

// HealthStatus reflects the outcome of the most recent run.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthPending HealthStatus = "pending"
	HealthError   HealthStatus = "error"
)

// Source is a configured ingestion origin.
type Source struct {
	ID              int64
	Name            string
	URL             string
	Kind            SourceKind
	Status          SourceStatus
	Health          HealthStatus
	IntervalMinutes int
	CronExpression  string
	LastFetchAt     *time.Time
	LastFetchStatus string
	ErrorMessage    string
	ErrorCount      int
	ExtractionHints string
	MaxItems        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Article is a persisted, deduplicated content item. ContentHash is
// unique across all articles regardless of source or URL.
type Article struct {
	ID          int64
	SourceID    int64
	URL         string
	Title       string
	Summary     string
	Topic       string
	Author      string
	PublishedAt *time.Time
	HighImpact  bool
	ContentHash string
	RawMetadata map[string]string
	FetchedAt   time.Time
}

// StockMention is a per-ticker entity extracted from one article.
// Sentiment is scoped to this ticker alone.
type StockMention struct {
	ID          int64
	ArticleID   int64
	Ticker      string
	CompanyName string
	Exchange    string
	Segment     string
	Sentiment   float64
	Label       string
	Confidence  float64
	Snippet     string
}

// ExtractionKind keys the extraction cache alongside the content hash.
type ExtractionKind string

const (
	ExtractAnalysis ExtractionKind = "analysis"
	ExtractEntities ExtractionKind = "entities"
)

// CacheEntry stores one inference result keyed by (hash, kind).
type CacheEntry struct {
	ID          int64
	ContentHash string
	Kind        ExtractionKind
	Model       string
	Response    []byte
	UseCount    int
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// LogStatus classifies a processing log row.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
	LogSkipped LogStatus = "skipped"
)

// ProcessingLog is an append-only record of one stage execution.
type ProcessingLog struct {
	ID        int64
	SourceID  int64
	ArticleID int64
	Stage     string
	Status    LogStatus
	Duration  time.Duration
	Error     string
	CreatedAt time.Time
}

// Analysis is the structured output of the analysis extraction.
type Analysis struct {
	Title       string
	Summary     string
	Topic       string
	Author      string
	PublishedAt *time.Time
	HighImpact  bool
}

// FetchOptions tunes a single fetch.
type FetchOptions struct {
	TakeScreenshot bool
}

// FetchResult is the product of one fetch attempt.
type FetchResult struct {
	URL        string
	StatusCode int
	RawHTML    string
	RawText    string
	Metadata   map[string]string
	Screenshot []byte
	Duration   time.Duration
	Rendered   bool
}

// DiscoveryResult classifies a fetched page.
type DiscoveryResult struct {
	IsListing bool
	Links     []string
}

// ItemOutcome is the terminal result for one listing item.
type ItemOutcome string

const (
	ItemSaved       ItemOutcome = "saved"
	ItemDuplicate   ItemOutcome = "duplicate"
	ItemFetchFailed ItemOutcome = "fetch_failed"
)

// ItemResult records how one listing item ended.
type ItemResult struct {
	URL       string
	Outcome   ItemOutcome
	ArticleID int64
}

// FeedItem is one entry parsed from a syndication feed.
type FeedItem struct {
	Title       string
	URL         string
	Summary     string
	Author      string
	PublishedAt *time.Time
}
