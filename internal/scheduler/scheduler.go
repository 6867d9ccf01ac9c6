// Package scheduler starts scan sessions on cron schedules. A scheduled
// start never interrupts or resumes a session the operator already has
// running; that tick is skipped.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/lifecycle"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/metrics"
)

const jobType = "scheduled_scan"

// Controller is the part of the lifecycle controller the scheduler drives.
// Both calls decide under the controller's own lock, so an operator action
// cannot slip in between the check and the start or stop.
type Controller interface {
	StartIfIdle(ctx context.Context, opts lifecycle.Options) (lifecycle.SessionInfo, error)
	StopSession(id string) error
}

// Job is a scheduled scan.
type Job struct {
	Name        string
	Cron        string
	Options     lifecycle.Options
	MaxDuration time.Duration
}

// JobStatus reports a scheduled scan and its last run.
type JobStatus struct {
	Name        string            `json:"name"`
	Cron        string            `json:"cron"`
	Options     lifecycle.Options `json:"options"`
	MaxDuration time.Duration     `json:"max_duration"`
	Enabled     bool              `json:"enabled"`
	Runs        int               `json:"runs"`
	LastRun     *time.Time        `json:"last_run,omitempty"`
	NextRun     *time.Time        `json:"next_run,omitempty"`
	LastSession string            `json:"last_session,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
}

type scheduledJob struct {
	job      Job
	schedule cron.Schedule
	cronID   cron.EntryID
	enabled  bool
	runs     int
	lastRun  time.Time
	session  string
	lastErr  string
}

// Scheduler manages scheduled scans.
type Scheduler struct {
	ctrl    Controller
	cron    *cron.Cron
	logger  *logging.Logger
	metrics metrics.Collector

	mu      sync.RWMutex
	jobs    map[string]*scheduledJob
	timers  map[string]*time.Timer
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// New creates a stopped scheduler driving ctrl.
func New(ctrl Controller, logger *logging.Logger, collector metrics.Collector) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		ctrl:    ctrl,
		cron:    cron.New(),
		logger:  logger.WithComponent("scheduler"),
		metrics: metrics.OrNop(collector),
		jobs:    make(map[string]*scheduledJob),
		timers:  make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
	}
}

// Add registers a scheduled scan. Cron expressions use the standard five
// fields or a descriptor such as @hourly.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return errors.NewConfigFieldError(errors.CodeValidation, "scheduled scan needs a name", "name", job.Name)
	}
	schedule, err := cron.ParseStandard(job.Cron)
	if err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression: %v", err), "cron", job.Cron)
	}
	job.Options = job.Options.Normalize()
	if len(job.Options.Ranges) == 0 {
		return errors.ErrNoRanges()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return errors.NewConfigFieldError(errors.CodeConflict, "scheduled scan already exists", "name", job.Name)
	}

	name := job.Name
	cronID := s.cron.Schedule(schedule, cron.FuncJob(func() { _ = s.execute(name) }))
	s.jobs[name] = &scheduledJob{job: job, schedule: schedule, cronID: cronID, enabled: true}

	s.logger.Info("Added scheduled scan", "job", name, "cron", job.Cron, "ranges", job.Options.Ranges)
	return nil
}

// Remove deletes a scheduled scan.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, exists := s.jobs[name]
	if !exists {
		return errors.NewConfigFieldError(errors.CodeNotFound, "scheduled scan not found", "name", name)
	}
	s.cron.Remove(sj.cronID)
	delete(s.jobs, name)

	s.logger.Info("Removed scheduled scan", "job", name)
	return nil
}

// Enable resumes the ticks of a scheduled scan.
func (s *Scheduler) Enable(name string) error {
	return s.setEnabled(name, true)
}

// Disable makes a scheduled scan skip its ticks.
func (s *Scheduler) Disable(name string) error {
	return s.setEnabled(name, false)
}

func (s *Scheduler) setEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sj, exists := s.jobs[name]
	if !exists {
		return errors.NewConfigFieldError(errors.CodeNotFound, "scheduled scan not found", "name", name)
	}
	sj.enabled = enabled

	s.logger.Info("Scheduled scan updated", "job", name, "enabled", enabled)
	return nil
}

// Jobs returns every scheduled scan sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, sj := range s.jobs {
		status := JobStatus{
			Name:        sj.job.Name,
			Cron:        sj.job.Cron,
			Options:     sj.job.Options,
			MaxDuration: sj.job.MaxDuration,
			Enabled:     sj.enabled,
			Runs:        sj.runs,
			LastSession: sj.session,
			LastError:   sj.lastErr,
		}
		if !sj.lastRun.IsZero() {
			last := sj.lastRun
			status.LastRun = &last
		}
		if s.running && sj.enabled {
			next := sj.schedule.Next(now)
			status.NextRun = &next
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start begins firing scheduled scans.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.NewControlError(errors.CodeAlreadyRunning, "scheduler is already running", "")
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop halts the schedule and waits for a tick in progress. Sessions the
// scheduler started keep running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Trigger runs a scheduled scan now, outside its schedule.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	_, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return errors.NewConfigFieldError(errors.CodeNotFound, "scheduled scan not found", "name", name)
	}
	return s.execute(name)
}

// execute starts the session of one scheduled scan. A tick is skipped when
// the job is disabled or any session is active.
func (s *Scheduler) execute(name string) error {
	s.mu.RLock()
	sj, exists := s.jobs[name]
	if !exists || !sj.enabled {
		s.mu.RUnlock()
		s.metrics.IncrementJobs(jobType, "skipped")
		return nil
	}
	job := sj.job
	ctx := s.ctx
	s.mu.RUnlock()

	start := s.now()
	info, err := s.ctrl.StartIfIdle(ctx, job.Options)
	if errors.IsCode(err, errors.CodeAlreadyRunning) {
		s.logger.Info("Scan already active, skipping scheduled scan",
			"job", name, "session_id", info.ID, "state", info.State)
		s.metrics.IncrementJobs(jobType, "skipped")
		return err
	}

	var sessionID string
	if err == nil {
		sessionID = info.ID
	}

	s.mu.Lock()
	if sj, exists := s.jobs[name]; exists {
		sj.runs++
		sj.lastRun = start
		sj.session = sessionID
		sj.lastErr = ""
		if err != nil {
			sj.lastErr = err.Error()
		}
	}
	if err == nil && sessionID != "" && job.MaxDuration > 0 {
		s.armDeadline(name, sessionID, job.MaxDuration)
	}
	s.mu.Unlock()

	if err != nil {
		s.metrics.IncrementJobs(jobType, "error")
		s.logger.Error("Scheduled scan failed to start", "job", name, "error", err)
		return err
	}
	s.metrics.IncrementJobs(jobType, "success")
	s.logger.InfoSession("Scheduled scan started", sessionID, "job", name, "ranges", job.Options.Ranges)
	return nil
}

// armDeadline stops sessionID after d if it is still the current session.
// Callers hold s.mu.
func (s *Scheduler) armDeadline(name, sessionID string, d time.Duration) {
	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	s.timers[name] = time.AfterFunc(d, func() {
		err := s.ctrl.StopSession(sessionID)
		switch {
		case err == nil:
			s.logger.InfoSession("Scheduled scan reached its time limit", sessionID, "job", name, "limit", d)
		case errors.IsCode(err, errors.CodeInvalidState):
			// the session already ended
		default:
			s.logger.Warn("Failed to stop scheduled scan", "job", name, "error", err)
		}
	})
}
