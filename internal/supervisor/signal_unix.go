//go:build unix

package supervisor

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/anstrom/livescan/internal/errors"
)

var unixSignals = map[Signal]syscall.Signal{
	SignalStop:      syscall.SIGSTOP,
	SignalContinue:  syscall.SIGCONT,
	SignalTerminate: syscall.SIGTERM,
	SignalKill:      syscall.SIGKILL,
}

var signalNames = map[syscall.Signal]string{
	syscall.SIGSTOP: "SIGSTOP",
	syscall.SIGCONT: "SIGCONT",
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGKILL: "SIGKILL",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// sysProcAttr puts the child in its own process group so signals reach the
// launcher and everything it forks.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the process group led by pid.
func signalGroup(pid int, sig Signal) error {
	s, ok := unixSignals[sig]
	if !ok {
		return errors.NewProcessError(errors.CodeUnsupported, sig.String(), "unknown signal")
	}
	err := syscall.Kill(-pid, s)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, syscall.ESRCH):
		return errors.WrapProcessError(errors.CodeNoSuchProcess, sig.String(), pid, err)
	case stderrors.Is(err, syscall.EPERM):
		return errors.WrapProcessError(errors.CodePermission, sig.String(), pid, err)
	default:
		return errors.WrapProcessError(errors.CodeSignalFailed, sig.String(), pid, err)
	}
}

func exitStatusFrom(state *os.ProcessState, err error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1, Err: err}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		name, known := signalNames[ws.Signal()]
		if !known {
			name = ws.Signal().String()
		}
		return ExitStatus{Code: -1, Signaled: true, Signal: name}
	}
	return ExitStatus{Code: state.ExitCode()}
}
