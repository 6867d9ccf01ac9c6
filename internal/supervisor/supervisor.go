// Package supervisor owns the external scan process: spawning it with both
// output streams captured, and delivering pause, resume and stop signals to
// its process group.
package supervisor

//go:generate mockgen -destination=mocks/mock_supervisor.go -package=mocks github.com/anstrom/livescan/internal/supervisor Supervisor,Process

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

const (
	// DefaultStopGrace is how long Stop waits after the terminate signal.
	DefaultStopGrace = 2 * time.Second
	// DefaultKillGrace is how long Stop waits after the kill signal.
	DefaultKillGrace = 1 * time.Second
)

// Command describes how to launch the scan process.
type Command struct {
	// Launcher is resolved on PATH, e.g. "bash".
	Launcher string
	// Script is the script handed to the launcher. It must exist when set.
	Script string
	Args   []string
	// Env is appended to the current environment.
	Env []string
	Dir string
}

// Argv returns the launcher arguments: script first, then Args.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	if c.Script != "" {
		argv = append(argv, c.Script)
	}
	return append(argv, c.Args...)
}

// ScriptPath is the script as the launcher resolves it: relative scripts
// are looked up in Dir when one is set.
func (c Command) ScriptPath() string {
	if c.Dir != "" && c.Script != "" && !filepath.IsAbs(c.Script) {
		return filepath.Join(c.Dir, c.Script)
	}
	return c.Script
}

// String renders the command line for logs.
func (c Command) String() string {
	return fmt.Sprint(append([]string{c.Launcher}, c.Argv()...))
}

// ExitStatus describes how the process ended.
type ExitStatus struct {
	Code     int    `json:"code"`
	Signaled bool   `json:"signaled"`
	Signal   string `json:"signal,omitempty"`
	Err      error  `json:"-"`
}

// Success reports a zero exit code without a terminating signal.
func (s ExitStatus) Success() bool {
	return !s.Signaled && s.Code == 0 && s.Err == nil
}

// TerminatedBy reports whether sig ended the process.
func (s ExitStatus) TerminatedBy(sig Signal) bool {
	return s.Signaled && s.Signal == sig.String()
}

// String implements fmt.Stringer.
func (s ExitStatus) String() string {
	if s.Signaled {
		return "signal " + s.Signal
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Signal is one of the four control signals sent to the process group.
type Signal int

const (
	SignalStop Signal = iota
	SignalContinue
	SignalTerminate
	SignalKill
)

// String returns the POSIX name of the signal.
func (s Signal) String() string {
	switch s {
	case SignalStop:
		return "SIGSTOP"
	case SignalContinue:
		return "SIGCONT"
	case SignalTerminate:
		return "SIGTERM"
	case SignalKill:
		return "SIGKILL"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Process is a running scan process.
type Process interface {
	PID() int
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Alive polls Done without blocking.
	Alive() bool
	Paused() bool
	// ExitStatus is valid after Done is closed.
	ExitStatus() ExitStatus
}

// Supervisor spawns and signals scan processes.
type Supervisor interface {
	Spawn(ctx context.Context, cmd Command) (Process, error)
	Pause(p Process) error
	Resume(p Process) error
	// Stop never fails; every termination problem is logged.
	Stop(p Process)
	Wait(p Process) ExitStatus
}

// pauseTracker is implemented by processes that record their paused state.
type pauseTracker interface {
	setPaused(bool)
}
