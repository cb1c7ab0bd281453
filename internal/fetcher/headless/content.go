package headless

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// contentSelectors are tried in order; the first match with enough
// text wins.
var contentSelectors = []string{
	"article",
	`[role="main"]`,
	".article-content",
	".post-content",
	".entry-content",
	".content",
	"main",
}

const minSelectorChars = 100

// extractContent pulls readable text out of rendered HTML, preferring
// article-shaped containers and falling back to the full body.
func extractContent(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, footer, header, aside").Remove()

	for _, sel := range contentSelectors {
		text := collapseSpace(doc.Find(sel).First().Text())
		if len(text) >= minSelectorChars {
			return text
		}
	}
	return collapseSpace(doc.Find("body").Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
