package dispatch

import (
	"sync"
	"time"
)

// Bridge fans events out to every attached sink.
type Bridge struct {
	mu    sync.RWMutex
	sinks []Sink
	now   func() time.Time
}

// NewBridge creates a bridge publishing to sinks.
func NewBridge(sinks ...Sink) *Bridge {
	b := &Bridge{now: time.Now}
	for _, s := range sinks {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
	return b
}

// Attach adds a sink.
func (b *Bridge) Attach(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish stamps the event and hands it to every sink in attach order.
func (b *Bridge) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now().UTC()
	}

	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(e)
	}
}

// Log publishes a log event outside any session gate. Control-path messages
// such as rejected requests use it.
func (b *Bridge) Log(sessionID string, level Level, message string) {
	e := LogEvent(level, message)
	e.SessionID = sessionID
	b.Publish(e)
}
