// Package dispatch delivers events from the scan core to the presentation
// layer. Readers publish through a per-session Gate so nothing from a
// stopped session reaches subscribers or the host registry.
package dispatch

import (
	"time"

	"github.com/anstrom/livescan/internal/hosts"
)

// EventType identifies the payload of an Event.
type EventType string

const (
	EventLog       EventType = "log"
	EventRowUpsert EventType = "row_upsert"
	EventState     EventType = "state"
)

// Level is the severity of a log event.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// LogEntry is the payload of a log event.
type LogEntry struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Row is the payload of a row upsert event.
type Row struct {
	Bucket   int          `json:"bucket"`
	Host     hosts.Record `json:"host"`
	Inserted bool         `json:"inserted"`
}

// Event is a presentation-facing notification from the scan core.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	Log       *LogEntry `json:"log,omitempty"`
	Row       *Row      `json:"row,omitempty"`
	State     string    `json:"state,omitempty"`
}

// LogEvent builds a log event.
func LogEvent(level Level, message string) Event {
	return Event{Type: EventLog, Log: &LogEntry{Level: level, Message: message}}
}

// RowEvent builds a row upsert event for a stored record.
func RowEvent(rec hosts.Record, inserted bool) Event {
	return Event{Type: EventRowUpsert, Row: &Row{Bucket: rec.Bucket, Host: rec, Inserted: inserted}}
}

// StateEvent builds a lifecycle state event.
func StateEvent(state string) Event {
	return Event{Type: EventState, State: state}
}

// Sink consumes events. Publish must not block for long; it runs on reader
// goroutines.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) {
	f(e)
}
