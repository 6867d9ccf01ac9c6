package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/metrics"
)

// Options configures an ExecSupervisor.
type Options struct {
	StopGrace time.Duration
	KillGrace time.Duration
	Logger    *logging.Logger
	Metrics   metrics.Collector
}

// ExecSupervisor runs the scan process with os/exec in its own process
// group.
type ExecSupervisor struct {
	stopGrace time.Duration
	killGrace time.Duration
	logger    *logging.Logger
	metrics   metrics.Collector

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
	signal   func(pid int, sig Signal) error
}

var _ Supervisor = (*ExecSupervisor)(nil)

// New creates an ExecSupervisor.
func New(opts Options) *ExecSupervisor {
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &ExecSupervisor{
		stopGrace: opts.StopGrace,
		killGrace: opts.KillGrace,
		logger:    opts.Logger,
		metrics:   metrics.OrNop(opts.Metrics),
		lookPath:  exec.LookPath,
		stat:      os.Stat,
		signal:    signalGroup,
	}
}

// process is a child started by ExecSupervisor.
type process struct {
	cmd    *exec.Cmd
	pid    int
	stdout *os.File
	stderr *os.File
	done   chan struct{}
	status ExitStatus
	paused atomic.Bool
}

func (p *process) PID() int              { return p.pid }
func (p *process) Stdout() io.ReadCloser { return p.stdout }
func (p *process) Stderr() io.ReadCloser { return p.stderr }
func (p *process) Done() <-chan struct{} { return p.done }
func (p *process) Paused() bool          { return p.paused.Load() }
func (p *process) setPaused(paused bool) { p.paused.Store(paused) }

func (p *process) ExitStatus() ExitStatus {
	<-p.done
	return p.status
}

func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) wait() {
	err := p.cmd.Wait()
	p.status = exitStatusFrom(p.cmd.ProcessState, err)
	close(p.done)
}

// Spawn starts the command with stdout and stderr on separate pipes. The
// process lifetime is not bound to ctx; ctx only aborts a spawn that has
// not started yet.
func (s *ExecSupervisor) Spawn(ctx context.Context, c Command) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapProcessError(errors.CodeCanceled, "spawn", 0, err)
	}

	launcher, err := s.lookPath(c.Launcher)
	if err != nil {
		pe := errors.NewProcessError(errors.CodeExecutableNotFound, "spawn",
			fmt.Sprintf("launcher %q not found", c.Launcher))
		pe.Cause = err
		return nil, pe
	}
	if c.Script != "" {
		if _, err := s.stat(c.ScriptPath()); err != nil {
			pe := errors.NewProcessError(errors.CodeScriptMissing, "spawn",
				fmt.Sprintf("script not found: %s", c.ScriptPath()))
			pe.Cause = err
			return nil, pe
		}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.WrapProcessError(errors.CodeSpawnFailed, "spawn", 0, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, errors.WrapProcessError(errors.CodeSpawnFailed, "spawn", 0, err)
	}

	cmd := exec.Command(launcher, c.Argv()...) //nolint:gosec // launcher and script come from operator config
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW} {
			_ = f.Close()
		}
		return nil, errors.WrapProcessError(errors.CodeSpawnFailed, "spawn", 0, err)
	}

	// The child holds its own copies; closing ours lets readers see EOF.
	_ = stdoutW.Close()
	_ = stderrW.Close()

	p := &process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}
	go p.wait()

	s.logger.InfoProcess("Scan process started", p.pid, "command", c.String())
	return p, nil
}

// Pause stops the process group.
func (s *ExecSupervisor) Pause(p Process) error {
	if err := s.deliver(p, SignalStop); err != nil {
		return err
	}
	setPaused(p, true)
	s.logger.InfoProcess("Scan process paused", p.PID())
	return nil
}

// Resume continues the process group.
func (s *ExecSupervisor) Resume(p Process) error {
	if err := s.deliver(p, SignalContinue); err != nil {
		return err
	}
	setPaused(p, false)
	s.logger.InfoProcess("Scan process resumed", p.PID())
	return nil
}

// Stop terminates the process group: continue if paused, terminate, and
// kill once the stop grace period has passed.
func (s *ExecSupervisor) Stop(p Process) {
	if p == nil {
		return
	}
	pid := p.PID()
	if !p.Alive() {
		s.logger.InfoProcess("Scan process already exited", pid)
		return
	}

	if p.Paused() {
		if err := s.deliver(p, SignalContinue); err != nil {
			s.logger.WarnProcess("Failed to continue paused process before stop", pid, err)
		} else {
			setPaused(p, false)
		}
	}

	if err := s.deliver(p, SignalTerminate); err != nil {
		s.logger.WarnProcess("Failed to terminate scan process", pid, err)
		if errors.IsProcessGone(err) {
			return
		}
	}
	if s.waitFor(p, s.stopGrace) {
		s.logger.InfoProcess("Scan process terminated", pid)
		return
	}

	s.logger.WarnProcess("Scan process still running after grace period, killing", pid, nil,
		"grace", s.stopGrace)
	if err := s.deliver(p, SignalKill); err != nil {
		s.logger.WarnProcess("Failed to kill scan process", pid, err)
		return
	}
	if !s.waitFor(p, s.killGrace) {
		s.logger.WarnProcess("Scan process did not exit after kill", pid, nil)
	}
}

// Wait blocks until the process exits.
func (s *ExecSupervisor) Wait(p Process) ExitStatus {
	<-p.Done()
	return p.ExitStatus()
}

// deliver sends sig to a live process and records the outcome.
func (s *ExecSupervisor) deliver(p Process, sig Signal) error {
	if p == nil || !p.Alive() {
		s.metrics.IncrementSignals(sig.String(), "not_running")
		pid := 0
		if p != nil {
			pid = p.PID()
		}
		pe := errors.NewProcessError(errors.CodeNotRunning, sig.String(), "process has already exited")
		pe.PID = pid
		return pe
	}

	err := s.signal(p.PID(), sig)
	switch {
	case err == nil:
		s.metrics.IncrementSignals(sig.String(), "ok")
	case errors.IsCode(err, errors.CodeNoSuchProcess):
		s.metrics.IncrementSignals(sig.String(), "no_such_process")
	default:
		s.metrics.IncrementSignals(sig.String(), "failed")
	}
	return err
}

func (s *ExecSupervisor) waitFor(p Process, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.Done():
		return true
	case <-timer.C:
		return false
	}
}

func setPaused(p Process, paused bool) {
	if t, ok := p.(pauseTracker); ok {
		t.setPaused(paused)
	}
}
