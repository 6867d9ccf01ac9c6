package metrics

import "time"

// Collector defines the metric hooks the scan core reports to.
// This interface allows components to run without a Prometheus registry.
type Collector interface {
	IncrementSessions(outcome string)
	RecordSessionDuration(outcome string, duration time.Duration)
	SetState(state string)
	SetLiveHosts(count int)
	IncrementSignals(signal, result string)
	IncrementDroppedEvents(sink string)
	IncrementLines(stream, class string)
	IncrementParseErrors(code string)
	IncrementHostUpserts(operation string)
	IncrementJobs(jobType, status string)
	RecordJobDuration(jobType string, duration time.Duration)
	RecordDatabaseQuery(operation string, duration time.Duration, success bool)
}

// Ensure that both implementations satisfy Collector.
var (
	_ Collector = (*PrometheusMetrics)(nil)
	_ Collector = Nop{}
)

// Nop discards every metric.
type Nop struct{}

func (Nop) IncrementSessions(string)                        {}
func (Nop) RecordSessionDuration(string, time.Duration)     {}
func (Nop) SetState(string)                                 {}
func (Nop) SetLiveHosts(int)                                {}
func (Nop) IncrementSignals(string, string)                 {}
func (Nop) IncrementDroppedEvents(string)                   {}
func (Nop) IncrementLines(string, string)                   {}
func (Nop) IncrementParseErrors(string)                     {}
func (Nop) IncrementHostUpserts(string)                     {}
func (Nop) IncrementJobs(string, string)                    {}
func (Nop) RecordJobDuration(string, time.Duration)         {}
func (Nop) RecordDatabaseQuery(string, time.Duration, bool) {}

// OrNop returns c, or Nop when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return Nop{}
	}
	return c
}
