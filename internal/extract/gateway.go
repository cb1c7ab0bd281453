package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

const maxSnippetChars = 500

// visionModelHints identify models that accept image input.
var visionModelHints = []string{"vision", "llava", "vl", "moondream", "minicpm"}

// Models names the model used for each extraction step.
type Models struct {
	Analysis      string
	Entities      string
	LinkExtractor string
}

// Gateway fronts the inference service with an extraction cache.
type Gateway struct {
	client *Client
	cache  engine.CacheStore
	models Models
	clock  engine.Clock
	logger *zap.Logger
}

// NewGateway creates a Gateway. cache may be nil to disable caching.
func NewGateway(client *Client, cache engine.CacheStore, models Models, clock engine.Clock, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		client: client,
		cache:  cache,
		models: models,
		clock:  clock,
		logger: logger.Named("extract"),
	}
}

// NeedsScreenshot reports whether the configured link-extractor model
// takes vision input.
func (g *Gateway) NeedsScreenshot() bool {
	name := strings.ToLower(g.models.LinkExtractor)
	for _, hint := range visionModelHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

type analysisPayload struct {
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Topic       string `json:"topic"`
	Author      string `json:"author"`
	PublishedAt string `json:"published_at"`
	HighImpact  bool   `json:"high_impact"`
}

// Analyze produces the structured article analysis for content. A
// malformed response is fatal for the item.
func (g *Gateway) Analyze(ctx context.Context, contentHash, content, hints string) (engine.Analysis, error) {
	if cached, ok := g.cacheGet(ctx, contentHash, engine.ExtractAnalysis); ok {
		var payload analysisPayload
		if err := json.Unmarshal(cached, &payload); err == nil {
			return payload.toAnalysis(), nil
		}
	}

	raw, err := g.client.Generate(ctx, g.models.Analysis, analysisPrompt(content, hints), nil)
	if err != nil {
		return engine.Analysis{}, fmt.Errorf("analysis inference: %w", err)
	}

	var payload analysisPayload
	if err := decodeObject(raw, &payload); err != nil {
		return engine.Analysis{}, fmt.Errorf("analysis response malformed: %w", err)
	}
	if strings.TrimSpace(payload.Title) == "" {
		return engine.Analysis{}, fmt.Errorf("analysis response missing title")
	}

	g.cachePut(ctx, contentHash, engine.ExtractAnalysis, g.models.Analysis, payload)
	return payload.toAnalysis(), nil
}

func (p analysisPayload) toAnalysis() engine.Analysis {
	a := engine.Analysis{
		Title:      strings.TrimSpace(p.Title),
		Summary:    strings.TrimSpace(p.Summary),
		Topic:      strings.TrimSpace(p.Topic),
		Author:     strings.TrimSpace(p.Author),
		HighImpact: p.HighImpact,
	}
	if p.PublishedAt != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, p.PublishedAt); err == nil {
				utc := t.UTC()
				a.PublishedAt = &utc
				break
			}
		}
	}
	return a
}

type mentionPayload struct {
	Ticker      string          `json:"ticker"`
	CompanyName string          `json:"company_name"`
	Exchange    string          `json:"exchange"`
	Segment     string          `json:"segment"`
	Sentiment   json.RawMessage `json:"sentiment"`
	Label       string          `json:"sentiment_label"`
	Confidence  json.RawMessage `json:"confidence"`
	Snippet     string          `json:"snippet"`
}

// Entities extracts ticker mentions from content. Malformed or empty
// responses degrade to an empty list, never an error.
func (g *Gateway) Entities(ctx context.Context, contentHash, title, content string) ([]engine.StockMention, error) {
	if cached, ok := g.cacheGet(ctx, contentHash, engine.ExtractEntities); ok {
		var payloads []mentionPayload
		if err := json.Unmarshal(cached, &payloads); err == nil {
			return validateMentions(payloads), nil
		}
	}

	raw, err := g.client.Generate(ctx, g.models.Entities, entitiesPrompt(title, content), nil)
	if err != nil {
		g.logger.Warn("entity inference failed, continuing without mentions", zap.Error(err))
		return nil, nil
	}

	var payloads []mentionPayload
	if err := decodeList(raw, &payloads); err != nil {
		g.logger.Warn("entity response malformed, continuing without mentions", zap.Error(err))
		return nil, nil
	}

	mentions := validateMentions(payloads)
	g.cachePut(ctx, contentHash, engine.ExtractEntities, g.models.Entities, payloads)
	return mentions, nil
}

// validateMentions drops incomplete entries and coerces scores into
// their valid ranges.
func validateMentions(payloads []mentionPayload) []engine.StockMention {
	var mentions []engine.StockMention
	for _, p := range payloads {
		ticker := strings.ToUpper(strings.TrimSpace(p.Ticker))
		company := strings.TrimSpace(p.CompanyName)
		if ticker == "" || company == "" {
			continue
		}
		mentions = append(mentions, engine.StockMention{
			Ticker:      ticker,
			CompanyName: company,
			Exchange:    strings.TrimSpace(p.Exchange),
			Segment:     strings.TrimSpace(p.Segment),
			Sentiment:   clampNumber(p.Sentiment, -1, 1, 0),
			Label:       strings.TrimSpace(p.Label),
			Confidence:  clampNumber(p.Confidence, 0, 1, 0.5),
			Snippet:     truncate(strings.TrimSpace(p.Snippet), maxSnippetChars),
		})
	}
	return mentions
}

// clampNumber parses a possibly non-numeric JSON value and clamps it
// to [lo, hi], falling back to def.
func clampNumber(raw json.RawMessage, lo, hi, def float64) float64 {
	if len(raw) == 0 {
		return def
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return def
		}
		if _, err := fmt.Sscanf(strings.TrimSpace(s), "%g", &v); err != nil {
			return def
		}
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PickContainer implements discover.VisionPicker using the
// link-extractor model. Index out of range or parse failure yields -1.
func (g *Gateway) PickContainer(ctx context.Context, screenshot []byte, candidates []string) (int, error) {
	raw, err := g.client.Generate(ctx, g.models.LinkExtractor, containerPrompt(candidates), [][]byte{screenshot})
	if err != nil {
		return -1, fmt.Errorf("container inference: %w", err)
	}

	var payload struct {
		Index int `json:"index"`
	}
	if err := decodeObject(raw, &payload); err != nil {
		return -1, fmt.Errorf("container response malformed: %w", err)
	}
	if payload.Index < 0 || payload.Index >= len(candidates) {
		return -1, nil
	}
	return payload.Index, nil
}

func (g *Gateway) cacheGet(ctx context.Context, hash string, kind engine.ExtractionKind) ([]byte, bool) {
	if g.cache == nil {
		return nil, false
	}
	entry, err := g.cache.Get(ctx, hash, kind)
	if err != nil {
		return nil, false
	}
	g.logger.Debug("cache hit", zap.String("hash", hash), zap.String("kind", string(kind)))
	return entry.Response, true
}

func (g *Gateway) cachePut(ctx context.Context, hash string, kind engine.ExtractionKind, model string, value any) {
	if g.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	now := g.clock.Now()
	err = g.cache.Put(ctx, engine.CacheEntry{
		ContentHash: hash,
		Kind:        kind,
		Model:       model,
		Response:    data,
		UseCount:    1,
		CreatedAt:   now,
		LastUsedAt:  now,
	})
	if err != nil {
		g.logger.Warn("cache write failed", zap.String("hash", hash), zap.Error(err))
	}
}
