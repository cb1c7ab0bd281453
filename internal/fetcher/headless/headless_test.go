package headless

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

func TestAgentPoolNeverRepeats(t *testing.T) {
	t.Parallel()

	p := newAgentPool(1)
	prev := p.Next()
	for range 50 {
		ua := p.Next()
		require.NotEqual(t, prev, ua)
		require.Contains(t, userAgents, ua)
		prev = ua
	}
}

func TestProxyPoolRoundRobin(t *testing.T) {
	t.Parallel()

	p := newProxyPool([]string{"http://a:8080", "http://b:8080"})
	require.Equal(t, "http://a:8080", p.Next())
	require.Equal(t, "http://b:8080", p.Next())
	require.Equal(t, "http://a:8080", p.Next())
}

func TestProxyPoolEmpty(t *testing.T) {
	t.Parallel()

	p := newProxyPool(nil)
	require.Equal(t, "", p.Next())
	require.Equal(t, "", p.Next())
}

func TestExtractContentPrefersArticle(t *testing.T) {
	t.Parallel()

	filler := strings.Repeat("markets rallied on upbeat guidance from chipmakers. ", 5)
	html := `<html><body>
<nav>site navigation links</nav>
<article>` + filler + `</article>
<footer>footer text</footer>
</body></html>`

	text := extractContent(html)
	require.Contains(t, text, "markets rallied")
	require.NotContains(t, text, "site navigation")
	require.NotContains(t, text, "footer text")
}

func TestExtractContentFallsBackToBody(t *testing.T) {
	t.Parallel()

	html := `<html><body><div>short page with no article container but enough words to matter here</div></body></html>`
	text := extractContent(html)
	require.Contains(t, text, "no article container")
}

func TestStealthScriptCoversKnownTells(t *testing.T) {
	t.Parallel()

	require.Contains(t, stealthScript, "webdriver")
	require.Contains(t, stealthScript, "plugins")
	require.Contains(t, stealthScript, "languages")
	require.Contains(t, stealthScript, "chrome.runtime")
	require.Contains(t, stealthScript, "permissions.query")
	require.Contains(t, stealthScript, "cdc_")
}

func TestBlockedStatus(t *testing.T) {
	t.Parallel()

	require.True(t, blockedStatus(401))
	require.True(t, blockedStatus(403))
	require.False(t, blockedStatus(200))
	require.False(t, blockedStatus(404))
	require.False(t, blockedStatus(500))
}

func TestStatusHolderKeepsFirst(t *testing.T) {
	t.Parallel()

	h := &statusHolder{}
	require.Equal(t, 200, h.get())
	h.set(403)
	h.set(200)
	require.Equal(t, 403, h.get())
}

func TestFetchNonBlockedErrorIsTerminal(t *testing.T) {
	t.Parallel()

	f := New(Options{BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}, zap.NewNop())
	attempts := 0
	f.attempt = func(context.Context, string, engine.FetchOptions) (engine.FetchResult, error) {
		attempts++
		return engine.FetchResult{}, errors.New("dns lookup failed")
	}

	_, err := f.Fetch(context.Background(), "https://example.com", engine.FetchOptions{})
	require.ErrorContains(t, err, "dns lookup failed")
	require.Equal(t, 1, attempts)
}

func TestFetchRetriesOnceOnBlockedStatus(t *testing.T) {
	t.Parallel()

	f := New(Options{BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}, zap.NewNop())
	attempts := 0
	f.attempt = func(_ context.Context, pageURL string, _ engine.FetchOptions) (engine.FetchResult, error) {
		attempts++
		if attempts == 1 {
			return engine.FetchResult{URL: pageURL, StatusCode: 403}, nil
		}
		return engine.FetchResult{URL: pageURL, StatusCode: 200, RawText: "content"}, nil
	}

	res, err := f.Fetch(context.Background(), "https://example.com", engine.FetchOptions{})
	require.NoError(t, err)
	require.Equal(t, 200, res.StatusCode)
	require.Equal(t, 2, attempts)
}

func TestFetchBlockedTwiceGivesUp(t *testing.T) {
	t.Parallel()

	f := New(Options{BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}, zap.NewNop())
	attempts := 0
	f.attempt = func(_ context.Context, pageURL string, _ engine.FetchOptions) (engine.FetchResult, error) {
		attempts++
		return engine.FetchResult{URL: pageURL, StatusCode: 401}, nil
	}

	_, err := f.Fetch(context.Background(), "https://example.com", engine.FetchOptions{})
	require.ErrorContains(t, err, "blocked with status 401")
	require.Equal(t, 2, attempts)
}
