// Package fetcher composes the fetch tiers into one resilient client.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/finsight/newsengine/internal/engine"
)

// Tiered tries the cheap probe tier first and escalates to the
// browser tier when the probe is blocked or starved. A limiter, when
// set, gates every outbound fetch by target domain.
type Tiered struct {
	probe    engine.Fetcher
	headless engine.Fetcher
	limiter  engine.Limiter
	logger   *zap.Logger
}

// NewTiered creates a Tiered fetcher. headless may be nil, in which
// case probe failures are returned as-is. limiter may be nil.
func NewTiered(probe, headless engine.Fetcher, limiter engine.Limiter, logger *zap.Logger) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{
		probe:    probe,
		headless: headless,
		limiter:  limiter,
		logger:   logger.Named("fetcher"),
	}
}

// Fetch retrieves the URL, escalating tiers as needed.
func (t *Tiered) Fetch(ctx context.Context, pageURL string, opts engine.FetchOptions) (engine.FetchResult, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, pageURL); err != nil {
			return engine.FetchResult{URL: pageURL}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	// screenshots need a rendered page
	if opts.TakeScreenshot && t.headless != nil {
		return t.headless.Fetch(ctx, pageURL, opts)
	}

	res, err := t.probe.Fetch(ctx, pageURL, opts)
	if err == nil {
		return res, nil
	}
	if t.headless == nil || ctx.Err() != nil {
		return res, err
	}

	if errors.Is(err, engine.ErrInsufficientContent) {
		t.logger.Debug("escalating to browser tier", zap.String("url", pageURL), zap.String("reason", "thin content"))
	} else {
		t.logger.Debug("escalating to browser tier", zap.String("url", pageURL), zap.Error(err))
	}
	return t.headless.Fetch(ctx, pageURL, opts)
}
