// Package discover classifies fetched pages as listings or single
// articles and extracts candidate item links from listing pages.
package discover

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

const (
	minContainerLinks = 5
	maxContainerLinks = 200
	minLinkTextChars  = 15
	maxLinks          = 20
	visionCandidates  = 10
)

// containerKeywords boost a candidate's score when found in its class
// or id attributes.
var containerKeywords = []string{"article", "post", "content", "main", "feed", "list", "grid", "news"}

// linkDenylist drops navigation, taxonomy, and non-document links.
var linkDenylist = []string{
	"/tag/", "/category/", "/author/", "/search", "/login", "/signup",
	"/contact", "/about", "/privacy", "/terms",
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".css", ".js",
}

// VisionPicker confirms a container choice from a rendered screenshot.
// It returns the index of the chosen candidate, or -1 for none.
type VisionPicker interface {
	PickContainer(ctx context.Context, screenshot []byte, candidates []string) (int, error)
}

// Discoverer scores DOM containers and extracts article links.
type Discoverer struct {
	vision VisionPicker
	logger *zap.Logger
}

// New creates a Discoverer. vision may be nil to rely on heuristics
// alone.
func New(vision VisionPicker, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{vision: vision, logger: logger.Named("discover")}
}

type candidate struct {
	sel   *goquery.Selection
	score int
	desc  string
}

// Discover classifies the page. Any internal failure degrades to a
// single-article classification, never an error for the run.
func (d *Discoverer) Discover(ctx context.Context, pageURL, rawHTML string, screenshot []byte, _ string) (engine.DiscoveryResult, error) {
	single := engine.DiscoveryResult{IsListing: false}

	base, err := url.Parse(pageURL)
	if err != nil {
		d.logger.Warn("bad page url, treating as single article", zap.String("url", pageURL), zap.Error(err))
		return single, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		d.logger.Warn("unparseable markup, treating as single article", zap.String("url", pageURL), zap.Error(err))
		return single, nil
	}

	cands := scoreContainers(doc)
	if len(cands) == 0 {
		return single, nil
	}

	chosen := d.pickContainer(ctx, screenshot, cands)
	links := extractLinks(chosen.sel, base)
	if len(links) < 2 {
		d.logger.Debug("too few qualifying links, single article",
			zap.String("url", pageURL), zap.Int("links", len(links)))
		return single, nil
	}

	d.logger.Debug("listing detected",
		zap.String("url", pageURL),
		zap.String("container", chosen.desc),
		zap.Int("score", chosen.score),
		zap.Int("links", len(links)))
	return engine.DiscoveryResult{IsListing: true, Links: links}, nil
}

// scoreContainers enumerates DOM containers, filters by link count,
// and ranks them. Result is sorted best-first with stable order for
// equal scores.
func scoreContainers(doc *goquery.Document) []candidate {
	var cands []candidate
	doc.Find("div, section, ul, main, article, nav").Each(func(_ int, s *goquery.Selection) {
		linkCount := s.Find("a[href]").Length()
		if linkCount < minContainerLinks || linkCount > maxContainerLinks {
			return
		}

		score := 0
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		attrs := strings.ToLower(class + " " + id)
		for _, kw := range containerKeywords {
			if strings.Contains(attrs, kw) {
				score += 2
			}
		}
		score += s.Find("article").Length()

		cands = append(cands, candidate{
			sel:   s,
			score: score,
			desc:  describeNode(s),
		})
	})

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	return cands
}

// pickContainer asks the vision model to confirm among the top
// candidates; on any failure the heuristic winner stands.
func (d *Discoverer) pickContainer(ctx context.Context, screenshot []byte, cands []candidate) candidate {
	top := cands[0]
	if d.vision == nil || len(screenshot) == 0 || len(cands) < 2 {
		return top
	}

	n := min(len(cands), visionCandidates)
	descs := make([]string, n)
	for i := range n {
		descs[i] = cands[i].desc
	}

	idx, err := d.vision.PickContainer(ctx, screenshot, descs)
	if err != nil || idx < 0 || idx >= n {
		if err != nil {
			d.logger.Debug("vision confirmation failed, keeping heuristic pick", zap.Error(err))
		}
		return top
	}
	return cands[idx]
}

// extractLinks pulls qualifying article links out of the container,
// preserving first-seen order.
func extractLinks(sel *goquery.Selection, base *url.URL) []string {
	seen := make(map[string]struct{})
	var links []string

	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		if abs.Hostname() == "" || !sameDomain(base, abs) {
			return true
		}
		if denied(abs) {
			return true
		}
		if len(strings.TrimSpace(a.Text())) < minLinkTextChars {
			return true
		}

		key := abs.String()
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		links = append(links, key)
		return len(links) < maxLinks
	})
	return links
}

func sameDomain(a, b *url.URL) bool {
	return registrableDomain(a.Hostname()) == registrableDomain(b.Hostname())
}

// registrableDomain approximates eTLD+1 with the last two host labels.
func registrableDomain(host string) string {
	host = strings.ToLower(host)
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func denied(u *url.URL) bool {
	target := strings.ToLower(u.Path)
	for _, pat := range linkDenylist {
		if strings.Contains(target, pat) {
			return true
		}
	}
	return false
}

func describeNode(s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if id, ok := s.Attr("id"); ok && id != "" {
		return tag + "#" + id
	}
	if class, ok := s.Attr("class"); ok && class != "" {
		fields := strings.Fields(class)
		return tag + "." + strings.Join(fields, ".")
	}
	return tag
}
