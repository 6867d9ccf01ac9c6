// Package lifecycle implements the scan state machine. The Controller
// accepts operator requests, drives the process supervisor, owns the
// current Session and reports every outcome as dispatch events.
//
// States and transitions:
//
//	idle     --start-->  scanning   spawn, reset registry, start readers
//	scanning --pause-->  paused     SIGSTOP
//	paused   --resume--> scanning   SIGCONT
//	scanning,paused --stop--> idle  SIGCONT if paused, SIGTERM, SIGKILL
//	scanning,paused --exit--> idle  completion summary
//
// Rejected requests leave the state unchanged and emit one log event.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/livescan/internal/dispatch"
	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/hosts"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/metrics"
	"github.com/anstrom/livescan/internal/supervisor"
)

// State is the lifecycle state of the controller.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
	StatePaused   State = "paused"
)

const (
	// DefaultReaderJoinTimeout bounds the reader join after a stop.
	DefaultReaderJoinTimeout = 1 * time.Second
	// DefaultExitJoinTimeout bounds the reader join after a natural exit.
	DefaultExitJoinTimeout = 2 * time.Second
)

// Session outcomes reported to metrics and observers.
const (
	OutcomeCompleted  = "completed"
	OutcomeTerminated = "terminated"
	OutcomeFailed     = "failed"
	OutcomeStopped    = "stopped"
	OutcomeLost       = "lost"
)

// Observer is told about session boundaries. Calls are made with the
// controller lock held and must not call back into the Controller.
type Observer interface {
	SessionStarted(info SessionInfo)
	SessionFinished(info SessionInfo, outcome string)
}

// Config describes how sessions launch the scan process.
type Config struct {
	Launcher          string
	Script            string
	Dir               string
	Env               []string
	ReaderJoinTimeout time.Duration
	ExitJoinTimeout   time.Duration
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Supervisor supervisor.Supervisor
	Registry   *hosts.Registry
	Bridge     *dispatch.Bridge
	Logger     *logging.Logger
	Metrics    metrics.Collector
	Observer   Observer
}

// Controller is the single owner of the active scan session.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	sup      supervisor.Supervisor
	registry *hosts.Registry
	bridge   *dispatch.Bridge
	logger   *logging.Logger
	metrics  metrics.Collector
	observer Observer

	state    State
	session  *Session
	watchers sync.WaitGroup
	newID    func() string
}

// NewController creates an idle controller.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.ReaderJoinTimeout <= 0 {
		cfg.ReaderJoinTimeout = DefaultReaderJoinTimeout
	}
	if cfg.ExitJoinTimeout <= 0 {
		cfg.ExitJoinTimeout = DefaultExitJoinTimeout
	}
	if deps.Registry == nil {
		deps.Registry = hosts.NewRegistry()
	}
	if deps.Bridge == nil {
		deps.Bridge = dispatch.NewBridge()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Supervisor == nil {
		deps.Supervisor = supervisor.New(supervisor.Options{Logger: deps.Logger, Metrics: deps.Metrics})
	}

	c := &Controller{
		cfg:      cfg,
		sup:      deps.Supervisor,
		registry: deps.Registry,
		bridge:   deps.Bridge,
		logger:   deps.Logger.WithComponent("lifecycle"),
		metrics:  metrics.OrNop(deps.Metrics),
		observer: deps.Observer,
		state:    StateIdle,
		newID:    func() string { return uuid.New().String() },
	}
	c.metrics.SetState(string(StateIdle))
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the current session, if any.
func (c *Controller) Session() (SessionInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return SessionInfo{State: c.state}, false
	}
	return c.infoLocked(c.session), true
}

func (c *Controller) infoLocked(sess *Session) SessionInfo {
	return SessionInfo{
		ID:        sess.ID,
		State:     c.state,
		Options:   sess.Options,
		StartedAt: sess.StartedAt,
		PID:       sess.process.PID(),
		Hosts:     c.registry.Len(),
	}
}

// Registry returns the host registry of the current or last session.
func (c *Controller) Registry() *hosts.Registry {
	return c.registry
}

// Hosts returns a snapshot of every known host.
func (c *Controller) Hosts() []hosts.Record {
	return c.registry.Snapshot()
}

// Select validates that ip is a known host and returns its snapshot.
func (c *Controller) Select(ip string) (hosts.Selection, error) {
	sel, ok := c.registry.Select(ip)
	if !ok {
		return hosts.Selection{}, errors.ErrHostUnknown(ip)
	}
	return sel, nil
}

// Start begins a new session. A start while paused resumes the session.
func (c *Controller) Start(ctx context.Context, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateScanning:
		c.bridge.Log(c.session.ID, dispatch.LevelInfo, "Scan already in progress.")
		return errors.NewControlError(errors.CodeAlreadyRunning, "scan already in progress", string(c.state))
	case StatePaused:
		return c.resumeLocked()
	}
	return c.startLocked(ctx, opts)
}

// StartIfIdle begins a new session only when none is active and returns
// it. Unlike Start it never resumes a paused session.
func (c *Controller) StartIfIdle(ctx context.Context, opts Options) (SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return c.infoLocked(c.session), errors.NewControlError(errors.CodeAlreadyRunning,
			"scan already in progress", string(c.state))
	}
	if err := c.startLocked(ctx, opts); err != nil {
		return SessionInfo{State: c.state}, err
	}
	return c.infoLocked(c.session), nil
}

func (c *Controller) startLocked(ctx context.Context, opts Options) error {
	opts = opts.Normalize()
	if len(opts.Ranges) == 0 {
		c.bridge.Log("", dispatch.LevelError, "Error: No IP ranges specified!")
		return errors.ErrNoRanges()
	}

	id := c.newID()
	c.bridge.Log(id, dispatch.LevelInfo, "Starting scan: "+strings.Join(opts.Ranges, ", "))
	c.bridge.Log(id, dispatch.LevelInfo,
		fmt.Sprintf("Config: %d threads, %dms timeout", opts.Threads, opts.TimeoutMS))

	proc, err := c.sup.Spawn(ctx, supervisor.Command{
		Launcher: c.cfg.Launcher,
		Script:   c.cfg.Script,
		Args:     opts.Args(),
		Env:      c.cfg.Env,
		Dir:      c.cfg.Dir,
	})
	if err != nil {
		c.bridge.Log(id, dispatch.LevelError, "Failed to start scan: "+err.Error())
		c.logger.ErrorSession("Scan spawn failed", id, err)
		return err
	}

	c.registry.Reset(opts.Ranges)
	c.metrics.SetLiveHosts(0)

	sess := newSession(id, opts, proc, c.registry, c.bridge, c.metrics)
	c.session = sess
	c.setState(StateScanning)
	if c.observer != nil {
		c.observer.SessionStarted(c.infoLocked(sess))
	}
	sess.start()

	c.watchers.Add(1)
	go c.watch(sess)

	c.logger.InfoSession("Scan session started", id, "pid", proc.PID(), "ranges", opts.Ranges)
	return nil
}

// Pause suspends the running scan.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
		return c.nothingRunning("pause")
	case StatePaused:
		c.bridge.Log(c.session.ID, dispatch.LevelInfo, "Scan is already paused.")
		return errors.NewControlError(errors.CodeInvalidState, "scan is already paused", string(c.state))
	}

	sess := c.session
	if err := c.sup.Pause(sess.process); err != nil {
		return c.signalFailed(sess, "pause", err)
	}
	c.setState(StatePaused)
	c.bridge.Log(sess.ID, dispatch.LevelInfo, "Scan paused.")
	return nil
}

// Resume continues a paused scan.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeLocked()
}

func (c *Controller) resumeLocked() error {
	switch c.state {
	case StateIdle:
		return c.nothingRunning("resume")
	case StateScanning:
		c.bridge.Log(c.session.ID, dispatch.LevelInfo, "Scan is not paused.")
		return errors.NewControlError(errors.CodeInvalidState, "scan is not paused", string(c.state))
	}

	sess := c.session
	if err := c.sup.Resume(sess.process); err != nil {
		return c.signalFailed(sess, "resume", err)
	}
	c.setState(StateScanning)
	c.bridge.Log(sess.ID, dispatch.LevelInfo, "Scan resumed.")
	return nil
}

// Stop terminates the running or paused scan and returns to idle. It
// blocks for at most the supervisor grace periods plus the reader join
// timeout.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		return c.nothingRunning("stop")
	}
	return c.stopLocked()
}

// StopSession stops the session with the given ID. It returns a
// CodeInvalidState error and leaves the controller untouched when that
// session has already ended.
func (c *Controller) StopSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.session.ID != id {
		return errors.NewControlError(errors.CodeInvalidState,
			fmt.Sprintf("session %s is not current", id), string(c.state))
	}
	return c.stopLocked()
}

func (c *Controller) stopLocked() error {
	sess := c.session
	c.bridge.Log(sess.ID, dispatch.LevelInfo, "Stopping scan...")

	sess.gate.Deactivate()
	c.sup.Stop(sess.process)
	if !sess.join(c.cfg.ReaderJoinTimeout) {
		c.logger.WithSession(sess.ID).Warn("Stream readers still blocked after stop, abandoning",
			"timeout", c.cfg.ReaderJoinTimeout)
	}

	c.finishLocked(sess, OutcomeStopped)
	c.bridge.Log(sess.ID, dispatch.LevelInfo, "Scan stopped.")
	return nil
}

// Shutdown stops any running session and waits for exit watchers until ctx
// is done.
func (c *Controller) Shutdown(ctx context.Context) error {
	if c.State() != StateIdle {
		_ = c.Stop()
	}

	done := make(chan struct{})
	go func() {
		c.watchers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch waits for the process to exit on its own and closes the session
// if it is still the current one.
func (c *Controller) watch(sess *Session) {
	defer c.watchers.Done()

	status := c.sup.Wait(sess.process)
	if !sess.join(c.cfg.ExitJoinTimeout) {
		c.logger.WithSession(sess.ID).Warn("Stream readers still blocked after exit, abandoning",
			"timeout", c.cfg.ExitJoinTimeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != sess {
		return
	}

	count := c.registry.Len()
	var outcome string
	switch {
	case status.Success():
		outcome = OutcomeCompleted
		c.bridge.Log(sess.ID, dispatch.LevelSuccess,
			fmt.Sprintf("Scan completed! Found %d live hosts.", count))
	case status.TerminatedBy(supervisor.SignalTerminate):
		outcome = OutcomeTerminated
		c.bridge.Log(sess.ID, dispatch.LevelInfo,
			fmt.Sprintf("Scan stopped by user. Found %d hosts.", count))
	default:
		outcome = OutcomeFailed
		c.bridge.Log(sess.ID, dispatch.LevelError,
			fmt.Sprintf("Scan finished with errors (%s). Found %d hosts.", status, count))
	}

	sess.gate.Deactivate()
	c.finishLocked(sess, outcome)
	c.logger.InfoSession("Scan session finished", sess.ID, "exit", status.String(), "hosts", count)
}

// signalFailed folds a failed pause or resume into a reset when the process
// is gone; other failures leave the state unchanged.
func (c *Controller) signalFailed(sess *Session, op string, err error) error {
	if !errors.IsProcessGone(err) {
		c.bridge.Log(sess.ID, dispatch.LevelError, fmt.Sprintf("Failed to %s scan: %v", op, err))
		return err
	}

	c.bridge.Log(sess.ID, dispatch.LevelWarn, "Scan process has already finished.")
	sess.gate.Deactivate()
	if !sess.join(c.cfg.ReaderJoinTimeout) {
		c.logger.WithSession(sess.ID).Warn("Stream readers still blocked after reset, abandoning")
	}
	c.finishLocked(sess, OutcomeLost)
	return err
}

func (c *Controller) nothingRunning(op string) error {
	c.bridge.Log("", dispatch.LevelInfo, "No scan is currently running.")
	return errors.NewControlError(errors.CodeIdle, "nothing to "+op, string(StateIdle))
}

// finishLocked clears the session and returns to idle. c.mu must be held.
func (c *Controller) finishLocked(sess *Session, outcome string) {
	c.metrics.IncrementSessions(outcome)
	c.metrics.RecordSessionDuration(outcome, time.Since(sess.StartedAt))
	info := c.infoLocked(sess)
	c.session = nil
	c.setState(StateIdle)
	if c.observer != nil {
		info.State = StateIdle
		c.observer.SessionFinished(info, outcome)
	}
}

// setState records the new state and announces it. c.mu must be held.
func (c *Controller) setState(s State) {
	c.state = s
	c.metrics.SetState(string(s))

	e := dispatch.StateEvent(string(s))
	if c.session != nil {
		e.SessionID = c.session.ID
	}
	c.bridge.Publish(e)
}
