// Package lifecycle keeps the process alive while workers are loading.
//
// A Guard hands out tokens to loading workers. The host waits for the
// tokens to be released before exiting, and expires the holders when it
// runs out of time.
package lifecycle

import (
	"context"
	"sync"
)

// Guard tracks held keep-alive tokens. The zero value is ready to use.
type Guard struct {
	mu      sync.Mutex
	next    uint64
	holders map[uint64]func()
	idle    chan struct{}
}

// NewGuard returns a Guard with no tokens held.
func NewGuard() *Guard {
	return &Guard{}
}

// Acquire takes a token. expire is called if the guard expires while the
// token is held. The returned release is safe to call more than once.
func (g *Guard) Acquire(expire func()) func() {
	g.mu.Lock()
	if g.holders == nil {
		g.holders = make(map[uint64]func())
	}
	id := g.next
	g.next++
	g.holders[id] = expire
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { g.release(id) })
	}
}

func (g *Guard) release(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.holders, id)
	if len(g.holders) == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
}

// Held returns the number of tokens not yet released.
func (g *Guard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.holders)
}

// Wait blocks until no token is held or ctx ends.
func (g *Guard) Wait(ctx context.Context) error {
	g.mu.Lock()
	if len(g.holders) == 0 {
		g.mu.Unlock()
		return nil
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Expire calls the expire function of every held token. Tokens stay held
// until their holders release them.
func (g *Guard) Expire() int {
	g.mu.Lock()
	expires := make([]func(), 0, len(g.holders))
	for _, fn := range g.holders {
		if fn != nil {
			expires = append(expires, fn)
		}
	}
	g.mu.Unlock()

	for _, fn := range expires {
		fn()
	}
	return len(expires)
}
