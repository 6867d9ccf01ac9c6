package lifecycle

import (
	"fmt"
	"time"

	"github.com/anstrom/livescan/internal/dispatch"
	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/hosts"
	"github.com/anstrom/livescan/internal/metrics"
	"github.com/anstrom/livescan/internal/protocol"
	"github.com/anstrom/livescan/internal/stream"
	"github.com/anstrom/livescan/internal/supervisor"
)

// Session is one run of the scan process from spawn to teardown. It owns
// the process handle, both readers and the dispatch gate.
type Session struct {
	ID        string
	Options   Options
	StartedAt time.Time

	process  supervisor.Process
	readers  []*stream.Reader
	gate     *dispatch.Gate
	registry *hosts.Registry
	metrics  metrics.Collector
}

// SessionInfo is a read-only view of the current session.
type SessionInfo struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Options   Options   `json:"options"`
	StartedAt time.Time `json:"started_at"`
	PID       int       `json:"pid"`
	Hosts     int       `json:"hosts"`
}

func newSession(id string, opts Options, proc supervisor.Process, registry *hosts.Registry,
	target dispatch.Sink, collector metrics.Collector) *Session {
	s := &Session{
		ID:        id,
		Options:   opts,
		StartedAt: time.Now(),
		process:   proc,
		gate:      dispatch.NewGate(id, target),
		registry:  registry,
		metrics:   metrics.OrNop(collector),
	}
	s.readers = []*stream.Reader{
		stream.NewReader(stream.Stdout, proc.Stdout(), s.gate.Active, s, collector),
		stream.NewReader(stream.Stderr, proc.Stderr(), s.gate.Active, s, collector),
	}
	return s
}

func (s *Session) start() {
	for _, r := range s.readers {
		r.Start()
	}
}

// join waits up to timeout for both readers.
func (s *Session) join(timeout time.Duration) bool {
	return stream.Join(timeout, s.readers...)
}

// HandleLine implements stream.Handler.
func (s *Session) HandleLine(line stream.Line) {
	switch line.Class {
	case stream.ClassError:
		s.gate.Deliver(dispatch.LogEvent(dispatch.LevelError, line.Text))
	case stream.ClassRecord:
		s.handleRecord(line.Text)
	default:
		s.gate.Deliver(dispatch.LogEvent(dispatch.LevelInfo, line.Text))
	}
}

// HandleError implements stream.Handler.
func (s *Session) HandleError(kind stream.Kind, err error) {
	s.gate.Deliver(dispatch.LogEvent(dispatch.LevelError, fmt.Sprintf("Stream error on %s: %v", kind, err)))
}

func (s *Session) handleRecord(text string) {
	rec, err := protocol.Parse(text)
	if err != nil {
		s.metrics.IncrementParseErrors(string(errors.GetCode(err)))
		s.gate.Deliver(dispatch.LogEvent(dispatch.LevelDebug, "Incomplete data: "+err.Error()))
		return
	}

	s.gate.Do(func(publish func(dispatch.Event)) {
		stored, inserted := s.registry.Upsert(rec)
		if inserted {
			s.metrics.IncrementHostUpserts("insert")
			s.metrics.SetLiveHosts(s.registry.Len())
		} else {
			s.metrics.IncrementHostUpserts("update")
		}

		if s.Options.Debug {
			publish(dispatch.LogEvent(dispatch.LevelDebug,
				fmt.Sprintf("%s: Ports=[%s] Ping=%s", stored.IP, stored.Ports, stored.Latency)))
		}
		publish(dispatch.RowEvent(stored, inserted))
		if inserted {
			publish(dispatch.LogEvent(dispatch.LevelSuccess, "Found live host: "+stored.IP))
		}
	})
}
