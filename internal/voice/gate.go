package voice

import "sync"

// InteractionGate is the one-shot "the user has interacted" signal that
// unlocks audio autoplay. It is shared by every session of one client.
type InteractionGate struct {
	mu      sync.Mutex
	open    bool
	waiters []func()
}

func NewInteractionGate() *InteractionGate {
	return &InteractionGate{}
}

func (g *InteractionGate) Opened() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Open records a qualifying gesture. Only the first call runs the waiters,
// in registration order.
func (g *InteractionGate) Open() {
	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		return
	}
	g.open = true
	waiters := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
}

// OnOpen runs fn once the gate opens, immediately if it already has.
func (g *InteractionGate) OnOpen(fn func()) {
	g.mu.Lock()
	if !g.open {
		g.waiters = append(g.waiters, fn)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	fn()
}
