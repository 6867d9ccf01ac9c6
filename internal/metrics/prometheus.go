// Package metrics provides Prometheus-based metrics collection for livescan.
// The scan core reports through the Collector interface; PrometheusMetrics
// backs it with client_golang collectors served on the API metrics endpoint.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all livescan metrics
	namespace = "livescan"

	// Subsystems
	subsystemSession  = "session"
	subsystemStream   = "stream"
	subsystemProtocol = "protocol"
	subsystemProcess  = "process"
	subsystemDispatch = "dispatch"
	subsystemWorkers  = "workers"
	subsystemDatabase = "database"
	subsystemSystem   = "system"
	subsystemAPI      = "api"
)

// States reported by the session state gauge.
var knownStates = []string{"idle", "scanning", "paused"}

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Session metrics
	sessionsTotal   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	sessionState    *prometheus.GaugeVec
	liveHosts       prometheus.Gauge

	// Stream and protocol metrics
	linesTotal  *prometheus.CounterVec
	parseErrors *prometheus.CounterVec
	hostUpserts *prometheus.CounterVec

	// Process control metrics
	signalsTotal *prometheus.CounterVec

	// Dispatch metrics
	eventsDropped *prometheus.CounterVec

	// Worker metrics
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initSessionMetrics()
	pm.initStreamMetrics()
	pm.initWorkerMetrics()
	pm.initDatabaseMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pm.SetState("idle")
	return pm
}

// initSessionMetrics initializes session and process control metrics
func (pm *PrometheusMetrics) initSessionMetrics() {
	pm.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "total",
			Help:      "Total number of scan sessions by outcome",
		},
		[]string{"outcome"},
	)

	pm.sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "duration_seconds",
			Help:      "Duration of scan sessions in seconds",
			Buckets:   []float64{1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0, 3600.0},
		},
		[]string{"outcome"},
	)

	pm.sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "state",
			Help:      "Current lifecycle state, 1 for the active state",
		},
		[]string{"state"},
	)

	pm.liveHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "live_hosts",
			Help:      "Number of live hosts in the current session",
		},
	)

	pm.signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProcess,
			Name:      "signals_total",
			Help:      "Total number of signals sent to the scan process by signal and result",
		},
		[]string{"signal", "result"},
	)

	pm.eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDispatch,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped by sink",
		},
		[]string{"sink"},
	)
}

// initStreamMetrics initializes output stream and protocol metrics
func (pm *PrometheusMetrics) initStreamMetrics() {
	pm.linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemStream,
			Name:      "lines_total",
			Help:      "Total number of output lines read by stream and class",
		},
		[]string{"stream", "class"},
	)

	pm.parseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProtocol,
			Name:      "errors_total",
			Help:      "Total number of malformed record lines by error code",
		},
		[]string{"code"},
	)

	pm.hostUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProtocol,
			Name:      "upserts_total",
			Help:      "Total number of host registry upserts by operation",
		},
		[]string{"operation"},
	)
}

// initWorkerMetrics initializes background job metrics
func (pm *PrometheusMetrics) initWorkerMetrics() {
	pm.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "jobs_total",
			Help:      "Total number of background jobs by type and status",
		},
		[]string{"job_type", "status"},
	)

	pm.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "job_duration_seconds",
			Help:      "Duration of background jobs in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"job_type"},
	)
}

// initDatabaseMetrics initializes database-related metrics
func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)
}

// initAPIMetrics initializes API-related metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.sessionsTotal,
		pm.sessionDuration,
		pm.sessionState,
		pm.liveHosts,
		pm.linesTotal,
		pm.parseErrors,
		pm.hostUpserts,
		pm.signalsTotal,
		pm.eventsDropped,
		pm.jobsTotal,
		pm.jobDuration,
		pm.dbQueries,
		pm.dbQueryDuration,
		pm.httpRequests,
		pm.httpDuration,
		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Session Metrics Methods

// IncrementSessions counts a finished session by outcome
func (pm *PrometheusMetrics) IncrementSessions(outcome string) {
	pm.sessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionDuration records the duration of a finished session
func (pm *PrometheusMetrics) RecordSessionDuration(outcome string, duration time.Duration) {
	pm.sessionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetState marks state as the current lifecycle state
func (pm *PrometheusMetrics) SetState(state string) {
	for _, s := range knownStates {
		value := 0.0
		if s == state {
			value = 1
		}
		pm.sessionState.WithLabelValues(s).Set(value)
	}
}

// SetLiveHosts sets the number of live hosts in the current session
func (pm *PrometheusMetrics) SetLiveHosts(count int) {
	pm.liveHosts.Set(float64(count))
}

// IncrementSignals counts a signal delivery attempt
func (pm *PrometheusMetrics) IncrementSignals(signal, result string) {
	pm.signalsTotal.WithLabelValues(signal, result).Inc()
}

// IncrementDroppedEvents counts an event a sink could not accept
func (pm *PrometheusMetrics) IncrementDroppedEvents(sink string) {
	pm.eventsDropped.WithLabelValues(sink).Inc()
}

// Stream Metrics Methods

// IncrementLines counts a classified output line
func (pm *PrometheusMetrics) IncrementLines(stream, class string) {
	pm.linesTotal.WithLabelValues(stream, class).Inc()
}

// IncrementParseErrors counts a dropped record line
func (pm *PrometheusMetrics) IncrementParseErrors(code string) {
	pm.parseErrors.WithLabelValues(code).Inc()
}

// IncrementHostUpserts counts a registry insert or update
func (pm *PrometheusMetrics) IncrementHostUpserts(operation string) {
	pm.hostUpserts.WithLabelValues(operation).Inc()
}

// Worker Metrics Methods

// IncrementJobs counts a finished background job
func (pm *PrometheusMetrics) IncrementJobs(jobType, status string) {
	pm.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// RecordJobDuration records how long one job attempt took
func (pm *PrometheusMetrics) RecordJobDuration(jobType string, duration time.Duration) {
	pm.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// Database Metrics Methods

// RecordDatabaseQuery records query count and duration
func (pm *PrometheusMetrics) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
