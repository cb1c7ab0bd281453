// Package feed reads RSS and Atom sources.
package feed

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

// Reader parses syndication feeds into engine items.
type Reader struct {
	parser *gofeed.Parser
	logger *zap.Logger
}

// New creates a feed Reader.
func New(userAgent string, logger *zap.Logger) *Reader {
	p := gofeed.NewParser()
	if userAgent != "" {
		p.UserAgent = userAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{parser: p, logger: logger.Named("feed")}
}

// Read fetches and parses the feed at feedURL, returning at most
// maxItems entries. maxItems <= 0 means no cap.
func (r *Reader) Read(ctx context.Context, feedURL string, maxItems int) ([]engine.FeedItem, error) {
	parsed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	items := make([]engine.FeedItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil || it.Link == "" {
			continue
		}
		fi := engine.FeedItem{
			Title:   it.Title,
			URL:     it.Link,
			Summary: it.Description,
		}
		if fi.Summary == "" {
			fi.Summary = it.Content
		}
		if it.PublishedParsed != nil {
			t := it.PublishedParsed.UTC()
			fi.PublishedAt = &t
		} else if it.UpdatedParsed != nil {
			t := it.UpdatedParsed.UTC()
			fi.PublishedAt = &t
		}
		if len(it.Authors) > 0 && it.Authors[0] != nil {
			fi.Author = it.Authors[0].Name
		}
		items = append(items, fi)
		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}

	r.logger.Debug("feed parsed",
		zap.String("url", feedURL),
		zap.String("title", parsed.Title),
		zap.Int("items", len(items)))
	return items, nil
}
