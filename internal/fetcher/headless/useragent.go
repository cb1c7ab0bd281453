package headless

import (
	"math/rand"
	"sync"
)

// userAgents are real desktop browser strings grouped by engine so
// retries can present a different fingerprint.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// agentPool hands out user agents, never the same one twice in a row.
type agentPool struct {
	mu   sync.Mutex
	rng  *rand.Rand
	last string
}

func newAgentPool(seed int64) *agentPool {
	return &agentPool{rng: rand.New(rand.NewSource(seed))}
}

// Next returns a user agent different from the previous one.
func (p *agentPool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		ua := userAgents[p.rng.Intn(len(userAgents))]
		if ua != p.last {
			p.last = ua
			return ua
		}
	}
}
