package dispatch

import "sync"

// Gate is the liveness guard of one session. Deliver and Do run only while
// the gate is active; once Deactivate returns, no further event or state
// mutation from that session gets through.
type Gate struct {
	mu        sync.RWMutex
	active    bool
	sessionID string
	target    Sink
}

// NewGate creates an active gate publishing to target.
func NewGate(sessionID string, target Sink) *Gate {
	return &Gate{active: true, sessionID: sessionID, target: target}
}

// SessionID returns the session the gate belongs to.
func (g *Gate) SessionID() string {
	return g.sessionID
}

// Active reports whether the session is still live.
func (g *Gate) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// Deliver publishes e tagged with the session ID. Events for an inactive
// session are discarded and Deliver reports false.
func (g *Gate) Deliver(e Event) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.active {
		return false
	}
	g.publish(e)
	return true
}

// Do runs fn while holding the gate open. fn receives a publish function
// that must be used instead of Deliver for events emitted from inside fn.
func (g *Gate) Do(fn func(publish func(Event))) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.active {
		return false
	}
	fn(g.publish)
	return true
}

// Deactivate closes the gate. It waits for in-flight Deliver and Do calls.
func (g *Gate) Deactivate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
}

func (g *Gate) publish(e Event) {
	e.SessionID = g.sessionID
	if g.target != nil {
		g.target.Publish(e)
	}
}
