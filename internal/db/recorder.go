package db

import (
	"context"
	"time"

	"github.com/anstrom/livescan/internal/dispatch"
	"github.com/anstrom/livescan/internal/lifecycle"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/metrics"
	"github.com/anstrom/livescan/internal/workers"
)

// Recorder persists session history. It observes session boundaries and
// consumes row events, queueing every write on a worker pool so the scan
// core never waits on the database.
type Recorder struct {
	sessions *SessionRepository
	hosts    *HostRepository
	pool     *workers.Pool
	logger   *logging.Logger
	metrics  metrics.Collector
	now      func() time.Time
}

var (
	_ lifecycle.Observer = (*Recorder)(nil)
	_ dispatch.Sink      = (*Recorder)(nil)
)

// NewRecorder creates a recorder writing through db. A pool of size one
// keeps the writes of a session in order.
func NewRecorder(db *DB, pool workers.Config, logger *logging.Logger, collector metrics.Collector) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	collector = metrics.OrNop(collector)

	r := &Recorder{
		sessions: NewSessionRepository(db, collector),
		hosts:    NewHostRepository(db, collector),
		pool:     workers.New(pool, logger, collector),
		logger:   logger.WithComponent("recorder"),
		metrics:  collector,
		now:      time.Now,
	}
	r.pool.Start()
	return r
}

// SessionStarted implements lifecycle.Observer.
func (r *Recorder) SessionStarted(info lifecycle.SessionInfo) {
	pid := info.PID
	row := &SessionRow{
		ID:        info.ID,
		Ranges:    append([]string(nil), info.Options.Ranges...),
		Threads:   info.Options.Threads,
		TimeoutMS: info.Options.TimeoutMS,
		Debug:     info.Options.Debug,
		PID:       &pid,
		StartedAt: info.StartedAt,
	}
	r.submit(workers.NewJob(info.ID, "session_create", func(ctx context.Context) error {
		return r.sessions.Create(ctx, row)
	}))
}

// SessionFinished implements lifecycle.Observer.
func (r *Recorder) SessionFinished(info lifecycle.SessionInfo, outcome string) {
	finishedAt := r.now()
	r.submit(workers.NewJob(info.ID, "session_finish", func(ctx context.Context) error {
		return r.sessions.Finish(ctx, info.ID, finishedAt, outcome, info.Hosts)
	}))
}

// Publish implements dispatch.Sink. Only row events are stored.
func (r *Recorder) Publish(e dispatch.Event) {
	if e.Type != dispatch.EventRowUpsert || e.Row == nil || e.SessionID == "" {
		return
	}
	row := NewHostRow(e.SessionID, e.Row.Host)
	r.submit(workers.NewJob(e.SessionID+"/"+row.IP, "host_upsert", func(ctx context.Context) error {
		return r.hosts.Upsert(ctx, row)
	}))
}

func (r *Recorder) submit(job workers.Job) {
	if err := r.pool.Submit(job); err != nil {
		r.metrics.IncrementDroppedEvents("recorder")
		r.logger.WithError(err).Warn("Dropping history write", "job_id", job.ID(), "job_type", job.Type())
	}
}

// Sessions returns the session repository for history queries.
func (r *Recorder) Sessions() *SessionRepository {
	return r.sessions
}

// Hosts returns the host repository for history queries.
func (r *Recorder) Hosts() *HostRepository {
	return r.hosts
}

// Close drains queued writes and stops the worker pool.
func (r *Recorder) Close() error {
	return r.pool.Shutdown()
}
