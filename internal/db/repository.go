package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/anstrom/livescan/internal/hosts"
	"github.com/anstrom/livescan/internal/metrics"
)

// SessionRow is one persisted scan session.
type SessionRow struct {
	ID         string         `db:"id" json:"id"`
	Ranges     pq.StringArray `db:"ranges" json:"ranges"`
	Threads    int            `db:"threads" json:"threads"`
	TimeoutMS  int            `db:"timeout_ms" json:"timeout_ms"`
	Debug      bool           `db:"debug" json:"debug"`
	PID        *int           `db:"pid" json:"pid,omitempty"`
	StartedAt  time.Time      `db:"started_at" json:"started_at"`
	FinishedAt *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	Outcome    *string        `db:"outcome" json:"outcome,omitempty"`
	HostCount  int            `db:"host_count" json:"host_count"`
}

// HostRow is the last record one session stored for an address.
type HostRow struct {
	SessionID string         `db:"session_id"`
	IP        string         `db:"ip"`
	Alive     bool           `db:"alive"`
	Hostname  sql.NullString `db:"hostname"`
	MAC       sql.NullString `db:"mac"`
	Vendor    sql.NullString `db:"vendor"`
	Ports     sql.NullString `db:"ports"`
	Latency   sql.NullString `db:"latency"`
	Bucket    int            `db:"bucket"`
	FirstSeen time.Time      `db:"first_seen"`
	LastSeen  time.Time      `db:"last_seen"`
}

func nullString(v hosts.Value) sql.NullString {
	text, ok := v.Get()
	return sql.NullString{String: text, Valid: ok}
}

func fromNull(s sql.NullString) hosts.Value {
	if !s.Valid {
		return hosts.Absent()
	}
	return hosts.Some(s.String)
}

// NewHostRow converts a registry record for storage.
func NewHostRow(sessionID string, rec hosts.Record) *HostRow {
	return &HostRow{
		SessionID: sessionID,
		IP:        rec.IP,
		Alive:     rec.Alive,
		Hostname:  nullString(rec.Hostname),
		MAC:       nullString(rec.MAC),
		Vendor:    nullString(rec.Vendor),
		Ports:     nullString(rec.Ports),
		Latency:   nullString(rec.Latency),
		Bucket:    rec.Bucket,
		FirstSeen: rec.FirstSeen,
		LastSeen:  rec.LastSeen,
	}
}

// Record converts the row back to a registry record. NULL columns become
// absent values.
func (h *HostRow) Record() hosts.Record {
	return hosts.Record{
		IP:        h.IP,
		Alive:     h.Alive,
		Hostname:  fromNull(h.Hostname),
		MAC:       fromNull(h.MAC),
		Vendor:    fromNull(h.Vendor),
		Ports:     fromNull(h.Ports),
		Latency:   fromNull(h.Latency),
		Bucket:    h.Bucket,
		FirstSeen: h.FirstSeen,
		LastSeen:  h.LastSeen,
	}
}

// observe records the query metric and sanitizes err.
func observe(collector metrics.Collector, operation string, start time.Time, err error) error {
	collector.RecordDatabaseQuery(operation, time.Since(start), err == nil)
	return sanitizeDBError(operation, err)
}

// SessionRepository stores scan sessions.
type SessionRepository struct {
	db      *DB
	metrics metrics.Collector
}

// NewSessionRepository creates a session repository.
func NewSessionRepository(db *DB, collector metrics.Collector) *SessionRepository {
	return &SessionRepository{db: db, metrics: metrics.OrNop(collector)}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, s *SessionRow) error {
	query := `
		INSERT INTO scan_sessions (id, ranges, threads, timeout_ms, debug, pid, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Ranges, s.Threads, s.TimeoutMS, s.Debug, s.PID, s.StartedAt)
	return observe(r.metrics, "create_session", start, err)
}

// Finish records the outcome of a session.
func (r *SessionRepository) Finish(ctx context.Context, id string, finishedAt time.Time, outcome string,
	hostCount int) error {
	query := `
		UPDATE scan_sessions
		SET finished_at = $2, outcome = $3, host_count = $4
		WHERE id = $1`

	start := time.Now()
	result, err := r.db.ExecContext(ctx, query, id, finishedAt, outcome, hostCount)
	if err == nil {
		var rows int64
		if rows, err = result.RowsAffected(); err == nil && rows == 0 {
			err = sql.ErrNoRows
		}
	}
	return observe(r.metrics, "finish_session", start, err)
}

// Get returns one session.
func (r *SessionRepository) Get(ctx context.Context, id string) (*SessionRow, error) {
	query := `
		SELECT id, ranges, threads, timeout_ms, debug, pid, started_at, finished_at, outcome, host_count
		FROM scan_sessions
		WHERE id = $1`

	var row SessionRow
	start := time.Now()
	err := r.db.GetContext(ctx, &row, query, id)
	if err := observe(r.metrics, "get_session", start, err); err != nil {
		return nil, err
	}
	return &row, nil
}

// List returns the most recent sessions first.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*SessionRow, error) {
	query := `
		SELECT id, ranges, threads, timeout_ms, debug, pid, started_at, finished_at, outcome, host_count
		FROM scan_sessions
		ORDER BY started_at DESC
		LIMIT $1`

	var rows []*SessionRow
	start := time.Now()
	err := r.db.SelectContext(ctx, &rows, query, limit)
	if err := observe(r.metrics, "list_sessions", start, err); err != nil {
		return nil, err
	}
	return rows, nil
}

// HostRepository stores the hosts found by each session.
type HostRepository struct {
	db      *DB
	metrics metrics.Collector
}

// NewHostRepository creates a host repository.
func NewHostRepository(db *DB, collector metrics.Collector) *HostRepository {
	return &HostRepository{db: db, metrics: metrics.OrNop(collector)}
}

// Upsert inserts the host or overwrites every column of the stored row
// except first_seen.
func (r *HostRepository) Upsert(ctx context.Context, h *HostRow) error {
	query := `
		INSERT INTO session_hosts (session_id, ip, alive, hostname, mac, vendor, ports, latency,
			bucket, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, ip) DO UPDATE SET
			alive = EXCLUDED.alive,
			hostname = EXCLUDED.hostname,
			mac = EXCLUDED.mac,
			vendor = EXCLUDED.vendor,
			ports = EXCLUDED.ports,
			latency = EXCLUDED.latency,
			bucket = EXCLUDED.bucket,
			last_seen = EXCLUDED.last_seen`

	start := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		h.SessionID, h.IP, h.Alive, h.Hostname, h.MAC, h.Vendor, h.Ports, h.Latency,
		h.Bucket, h.FirstSeen, h.LastSeen)
	return observe(r.metrics, "upsert_host", start, err)
}

// ListBySession returns the hosts of one session in discovery order.
func (r *HostRepository) ListBySession(ctx context.Context, sessionID string) ([]*HostRow, error) {
	query := `
		SELECT session_id, ip, alive, hostname, mac, vendor, ports, latency, bucket, first_seen, last_seen
		FROM session_hosts
		WHERE session_id = $1
		ORDER BY first_seen, ip`

	var rows []*HostRow
	start := time.Now()
	err := r.db.SelectContext(ctx, &rows, query, sessionID)
	if err := observe(r.metrics, "list_hosts", start, err); err != nil {
		return nil, err
	}
	return rows, nil
}
