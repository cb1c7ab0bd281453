// Package probe implements the lightweight HTTP fetch tier.
//
// It issues a plain GET with realistic browser headers and strips the
// response down to readable text. Pages that come back empty or too
// short signal that the caller should escalate to the headless tier.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Fetcher downloads pages without a browser.
type Fetcher struct {
	userAgent string
	timeout   time.Duration
	minChars  int
	logger    *zap.Logger
}

// New creates a probe Fetcher. minChars is the readable-text floor below
// which the fetch is reported as insufficient.
func New(userAgent string, timeout time.Duration, minChars int, logger *zap.Logger) *Fetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		userAgent: userAgent,
		timeout:   timeout,
		minChars:  minChars,
		logger:    logger.Named("probe"),
	}
}

// Fetch retrieves the URL over plain HTTP. It returns
// engine.ErrInsufficientContent when the page yields less readable text
// than the configured floor, so callers can escalate tiers.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, _ engine.FetchOptions) (engine.FetchResult, error) {
	start := time.Now()

	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(f.timeout)

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Cache-Control", "no-cache")
		if err := ctx.Err(); err != nil {
			r.Abort()
			fetchErr = err
		}
	})
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(pageURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	res := engine.FetchResult{
		URL:        pageURL,
		StatusCode: statusCode,
		Duration:   time.Since(start),
		Rendered:   false,
	}

	if fetchErr != nil {
		return res, fmt.Errorf("probe fetch %s: %w", pageURL, fetchErr)
	}
	if len(body) == 0 {
		return res, fmt.Errorf("probe fetch %s: %w", pageURL, engine.ErrInsufficientContent)
	}

	res.RawHTML = string(body)
	res.RawText = extractText(res.RawHTML)
	res.Metadata = extractMetadata(res.RawHTML)

	if len(strings.TrimSpace(res.RawText)) < f.minChars {
		f.logger.Debug("content below floor",
			zap.String("url", pageURL),
			zap.Int("chars", len(res.RawText)),
			zap.Int("floor", f.minChars))
		return res, fmt.Errorf("probe fetch %s: %w", pageURL, engine.ErrInsufficientContent)
	}

	f.logger.Debug("fetched",
		zap.String("url", pageURL),
		zap.Int("status", statusCode),
		zap.Int("chars", len(res.RawText)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// extractText pulls readable body text, preferring readability output
// and falling back to a stripped DOM walk.
func extractText(rawHTML string) string {
	article, err := readability.FromReader(strings.NewReader(rawHTML), nil)
	if err == nil && len(strings.TrimSpace(article.TextContent)) > 0 {
		return strings.TrimSpace(article.TextContent)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(rawHTML)))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, footer, header, aside").Remove()
	return strings.TrimSpace(doc.Find("body").Text())
}

// extractMetadata collects common meta tags into a flat map.
func extractMetadata(rawHTML string) map[string]string {
	meta := make(map[string]string)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return meta
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || strings.TrimSpace(content) == "" {
			return
		}
		if prop, ok := s.Attr("property"); ok && strings.HasPrefix(prop, "og:") {
			meta[prop] = content
			return
		}
		if prop, ok := s.Attr("property"); ok && prop == "article:published_time" {
			meta[prop] = content
			return
		}
		if name, ok := s.Attr("name"); ok {
			switch name {
			case "description", "author", "keywords":
				meta[name] = content
			}
		}
	})
	return meta
}
