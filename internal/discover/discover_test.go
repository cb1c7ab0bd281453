package discover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func listingHTML(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="sidebar"><a href="/about">About thirty characters of text</a></div>`)
	b.WriteString(`<div class="news-list" id="main-feed">`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<article><a href="/news/story-%d">Full headline for the story number %d</a></article>`, i, i)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func TestDiscoverDetectsListing(t *testing.T) {
	t.Parallel()

	d := New(nil, zap.NewNop())
	res, err := d.Discover(context.Background(), "https://example.com/news", listingHTML(8), nil, "")
	require.NoError(t, err)
	require.True(t, res.IsListing)
	require.Len(t, res.Links, 8)
	require.Equal(t, "https://example.com/news/story-0", res.Links[0])
}

func TestDiscoverCapsAtTwenty(t *testing.T) {
	t.Parallel()

	d := New(nil, zap.NewNop())
	res, err := d.Discover(context.Background(), "https://example.com/news", listingHTML(50), nil, "")
	require.NoError(t, err)
	require.True(t, res.IsListing)
	require.Len(t, res.Links, 20)
}

func TestDiscoverSingleLinkIsArticle(t *testing.T) {
	t.Parallel()

	// container passes the link-count gate with filler links that
	// fail the text-length filter, leaving one qualifying link
	html := `<html><body><div class="news-list">
<a href="/news/only-story">The only qualifying headline here</a>
<a href="/news/a">x</a><a href="/news/b">x</a><a href="/news/c">x</a>
<a href="/news/d">x</a><a href="/news/e">x</a>
</div></body></html>`

	d := New(nil, zap.NewNop())
	res, err := d.Discover(context.Background(), "https://example.com/news", html, nil, "")
	require.NoError(t, err)
	require.False(t, res.IsListing)
	require.Empty(t, res.Links)
}

func TestDiscoverFiltersLinks(t *testing.T) {
	t.Parallel()

	html := `<html><body><div class="news-list">
<a href="/news/keep-one">Headline long enough to keep number one</a>
<a href="/news/keep-two">Headline long enough to keep number two</a>
<a href="/tag/markets">Tag page with a long enough label text</a>
<a href="/category/tech">Category page with long enough label</a>
<a href="https://other.com/news/x">Offsite story with long enough text</a>
<a href="/media/report.pdf">A PDF document with long enough text</a>
<a href="#top">Fragment link with long enough label text</a>
<a href="javascript:void(0)">Script link with long enough text here</a>
<a href="/news/keep-one">Headline long enough to keep number one</a>
</div></body></html>`

	d := New(nil, zap.NewNop())
	res, err := d.Discover(context.Background(), "https://example.com/news", html, nil, "")
	require.NoError(t, err)
	require.True(t, res.IsListing)
	require.Equal(t, []string{
		"https://example.com/news/keep-one",
		"https://example.com/news/keep-two",
	}, res.Links)
}

func TestDiscoverSubdomainIsSameDomain(t *testing.T) {
	t.Parallel()

	html := `<html><body><div class="news-list">
<a href="https://www.example.com/news/one">Headline long enough to keep number one</a>
<a href="https://live.example.com/news/two">Headline long enough to keep number two</a>
<a href="/news/three">Headline long enough to keep number three</a>
<a href="/news/four">Headline long enough to keep number four</a>
<a href="/news/five">Headline long enough to keep number five</a>
</div></body></html>`

	d := New(nil, zap.NewNop())
	res, err := d.Discover(context.Background(), "https://example.com/news", html, nil, "")
	require.NoError(t, err)
	require.True(t, res.IsListing)
	require.Len(t, res.Links, 5)
}

func TestDiscoverBadMarkupDegrades(t *testing.T) {
	t.Parallel()

	d := New(nil, zap.NewNop())
	res, err := d.Discover(context.Background(), "https://example.com/x", "", nil, "")
	require.NoError(t, err)
	require.False(t, res.IsListing)
}

type fakeVision struct {
	idx   int
	err   error
	calls int
	descs []string
}

func (f *fakeVision) PickContainer(_ context.Context, _ []byte, descs []string) (int, error) {
	f.calls++
	f.descs = descs
	return f.idx, f.err
}

func twoContainerHTML() string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="news-list" id="feed-a">`)
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, `<article><a href="/news/a-%d">Feed A headline for story number %d</a></article>`, i, i)
	}
	b.WriteString(`</div><div class="link-grid" id="feed-b">`)
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, `<a href="/news/b-%d">Feed B headline for story number %d</a>`, i, i)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func TestDiscoverVisionOverridesHeuristic(t *testing.T) {
	t.Parallel()

	v := &fakeVision{idx: 1}
	d := New(v, zap.NewNop())
	res, err := d.Discover(context.Background(), "https://example.com/news", twoContainerHTML(), []byte{0x89}, "")
	require.NoError(t, err)
	require.True(t, res.IsListing)
	require.Equal(t, 1, v.calls)
	require.Contains(t, res.Links[0], "/news/b-")
}

func TestDiscoverVisionFailureKeepsHeuristic(t *testing.T) {
	t.Parallel()

	v := &fakeVision{idx: -1, err: errors.New("model unavailable")}
	d := New(v, zap.NewNop())
	res, err := d.Discover(context.Background(), "https://example.com/news", twoContainerHTML(), []byte{0x89}, "")
	require.NoError(t, err)
	require.True(t, res.IsListing)
	require.Contains(t, res.Links[0], "/news/a-")
}

func TestDiscoverNoScreenshotSkipsVision(t *testing.T) {
	t.Parallel()

	v := &fakeVision{idx: 1}
	d := New(v, zap.NewNop())
	_, err := d.Discover(context.Background(), "https://example.com/news", twoContainerHTML(), nil, "")
	require.NoError(t, err)
	require.Zero(t, v.calls)
}
