package headless

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// consentScript clicks through cookie and consent overlays. It tries
// well-known selectors first, then scans buttons for accept-style
// labels. Returns true when something was clicked.
const consentScript = `
(() => {
  const selectors = [
    '#onetrust-accept-btn-handler',
    'button[id*="accept"]',
    'button[class*="accept"]',
    'button[class*="consent"]',
    'button[class*="agree"]',
    'a[class*="accept"]',
    '[aria-label*="accept" i]',
  ];
  for (const sel of selectors) {
    const el = document.querySelector(sel);
    if (el && el.offsetParent !== null) {
      el.click();
      return true;
    }
  }
  const texts = ['accept all', 'accept cookies', 'i accept', 'accept', 'agree', 'i agree', 'got it', 'ok', 'allow all'];
  for (const btn of document.querySelectorAll('button, a[role="button"]')) {
    const label = (btn.textContent || '').trim().toLowerCase();
    if (label && texts.includes(label) && btn.offsetParent !== null) {
      btn.click();
      return true;
    }
  }
  return false;
})()
`

// dismissConsent runs the consent script and, when an overlay was
// clicked, gives the page a moment to settle.
func dismissConsent() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var clicked bool
		if err := chromedp.Evaluate(consentScript, &clicked).Do(ctx); err != nil {
			// overlay handling is best effort
			return nil
		}
		if clicked {
			sleepCtx(ctx, 500*time.Millisecond)
		}
		return nil
	})
}
