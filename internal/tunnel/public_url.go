package tunnel

import (
	"sync"
	"sync/atomic"
)

// PublicURL holds the panel's external address. It is written at most once
// and readable from any goroutine.
type PublicURL struct {
	once  sync.Once
	value atomic.Pointer[string]
	ready chan struct{}
}

func NewPublicURL() *PublicURL {
	return &PublicURL{ready: make(chan struct{})}
}

// Publish stores u unless a URL was already published. It reports whether
// this call won.
func (p *PublicURL) Publish(u string) bool {
	won := false
	p.once.Do(func() {
		p.value.Store(&u)
		close(p.ready)
		won = true
	})
	return won
}

// Get returns "" until a URL is published.
func (p *PublicURL) Get() string {
	if v := p.value.Load(); v != nil {
		return *v
	}
	return ""
}

// Ready is closed once a URL is published.
func (p *PublicURL) Ready() <-chan struct{} {
	return p.ready
}
