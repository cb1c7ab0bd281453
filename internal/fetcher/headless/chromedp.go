// Package headless renders pages in a real browser for sites that
// block or starve plain HTTP clients. Each fetch runs in a fresh
// browser context with a rotated user agent, stealth scripts, and
// optional human-behavior simulation. A 401/403 response earns one
// retry through a different identity after a randomized delay.
package headless

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

// Options configures the headless Fetcher.
type Options struct {
	NavTimeout       time.Duration
	SettleMin        time.Duration
	SettleMax        time.Duration
	SimulateBehavior bool
	MinContentChars  int
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	Proxies          []string
}

// Fetcher drives a headless Chrome instance.
type Fetcher struct {
	opts    Options
	agents  *agentPool
	proxies *proxyPool
	logger  *zap.Logger

	// attempt seam, replaced in tests to avoid launching a browser
	attempt func(ctx context.Context, pageURL string, opts engine.FetchOptions) (engine.FetchResult, error)

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a headless Fetcher.
func New(opts Options, logger *zap.Logger) *Fetcher {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	if opts.SettleMin <= 0 {
		opts.SettleMin = 2 * time.Second
	}
	if opts.SettleMax < opts.SettleMin {
		opts.SettleMax = opts.SettleMin
	}
	if opts.MinContentChars <= 0 {
		opts.MinContentChars = 100
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = 5 * time.Second
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin + 3*time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := time.Now().UnixNano()
	f := &Fetcher{
		opts:    opts,
		agents:  newAgentPool(seed),
		proxies: newProxyPool(opts.Proxies),
		logger:  logger.Named("headless"),
		rng:     rand.New(rand.NewSource(seed)),
	}
	f.attempt = f.fetchOnce
	return f
}

// Fetch renders the URL in a browser. Blocked responses (401/403) get
// exactly one more attempt with a fresh browser identity.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, opts engine.FetchOptions) (engine.FetchResult, error) {
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := f.attempt(ctx, pageURL, opts)
		if err != nil {
			// non-blocked failures are terminal; only 401/403 earns a retry
			return engine.FetchResult{URL: pageURL}, err
		}
		if !blockedStatus(res.StatusCode) {
			return res, nil
		}
		lastErr = fmt.Errorf("headless fetch %s: blocked with status %d", pageURL, res.StatusCode)
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}

		delay := f.randomDuration(f.opts.BackoffMin, f.opts.BackoffMax)
		f.logger.Warn("blocked, retrying with new identity",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		sleepCtx(ctx, delay)
	}
	return engine.FetchResult{URL: pageURL}, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string, opts engine.FetchOptions) (engine.FetchResult, error) {
	start := time.Now()

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 768),
	)
	if proxy := f.proxies.Next(); proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, f.opts.NavTimeout)
	defer cancelRun()

	ua := f.agents.Next()
	statusCode := listenForStatus(runCtx, pageURL)

	var rawHTML string
	res := engine.FetchResult{URL: pageURL, Rendered: true}

	actions := []chromedp.Action{
		network.Enable(),
		emulation.SetUserAgentOverride(ua),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(f.randomDuration(f.opts.SettleMin, f.opts.SettleMax)),
		dismissConsent(),
	}
	if f.opts.SimulateBehavior {
		actions = append(actions, simulateHuman(f.newRng()))
	}
	actions = append(actions, chromedp.OuterHTML("html", &rawHTML))
	if opts.TakeScreenshot {
		actions = append(actions, chromedp.CaptureScreenshot(&res.Screenshot))
	}

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return res, fmt.Errorf("headless fetch %s: %w", pageURL, err)
	}

	res.StatusCode = statusCode.get()
	res.RawHTML = rawHTML
	res.RawText = extractContent(rawHTML)
	res.Metadata = map[string]string{"user_agent": ua}
	res.Duration = time.Since(start)

	if blockedStatus(res.StatusCode) {
		return res, nil
	}
	if len(strings.TrimSpace(res.RawText)) < f.opts.MinContentChars {
		return res, fmt.Errorf("headless fetch %s: %w", pageURL, engine.ErrInsufficientContent)
	}

	f.logger.Debug("rendered",
		zap.String("url", pageURL),
		zap.Int("status", res.StatusCode),
		zap.Int("chars", len(res.RawText)),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (f *Fetcher) randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return min + time.Duration(f.rng.Int63n(int64(max-min)))
}

func (f *Fetcher) newRng() *rand.Rand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return rand.New(rand.NewSource(f.rng.Int63()))
}

func blockedStatus(code int) bool {
	return code == 401 || code == 403
}

// statusHolder captures the main document's response status off the
// CDP event stream.
type statusHolder struct {
	mu   sync.Mutex
	code int
}

func (s *statusHolder) set(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == 0 {
		s.code = code
	}
}

func (s *statusHolder) get() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == 0 {
		return 200
	}
	return s.code
}

func listenForStatus(ctx context.Context, pageURL string) *statusHolder {
	holder := &statusHolder{}
	chromedp.ListenTarget(ctx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument && strings.HasPrefix(resp.Response.URL, pageURL) {
				holder.set(int(resp.Response.Status))
			}
		}
	})
	return holder
}
