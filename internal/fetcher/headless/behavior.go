package headless

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// simulateHuman moves the mouse and scrolls the page a few times so
// the session traffic looks like a person reading.
func simulateHuman(rng *rand.Rand) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		moves := 3 + rng.Intn(4)
		for range moves {
			x := float64(100 + rng.Intn(1100))
			y := float64(100 + rng.Intn(600))
			if err := input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx); err != nil {
				return err
			}
			sleepCtx(ctx, time.Duration(50+rng.Intn(200))*time.Millisecond)
		}

		scrolls := 2 + rng.Intn(3)
		for range scrolls {
			delta := 200 + rng.Intn(500)
			if err := chromedp.Evaluate(jsScrollBy(delta), nil).Do(ctx); err != nil {
				return err
			}
			sleepCtx(ctx, time.Duration(300+rng.Intn(700))*time.Millisecond)
		}

		// occasionally scroll back up, readers do
		if rng.Float64() < 0.3 {
			if err := chromedp.Evaluate(jsScrollBy(-(150 + rng.Intn(300))), nil).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func jsScrollBy(delta int) string {
	return fmt.Sprintf("window.scrollBy({top: %d, behavior: 'smooth'}); true", delta)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
