package headless

import "sync/atomic"

// proxyPool rotates through a fixed set of upstream proxies. An empty
// pool means direct connections.
type proxyPool struct {
	proxies []string
	next    atomic.Uint64
}

func newProxyPool(proxies []string) *proxyPool {
	return &proxyPool{proxies: proxies}
}

// Next returns the next proxy in round-robin order, or "" when the
// pool is empty.
func (p *proxyPool) Next() string {
	if len(p.proxies) == 0 {
		return ""
	}
	n := p.next.Add(1) - 1
	return p.proxies[n%uint64(len(p.proxies))]
}
