//go:build !unix

package supervisor

import (
	"os"
	"syscall"

	"github.com/anstrom/livescan/internal/errors"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// signalGroup has no process groups to work with here: terminate and kill
// end the launcher itself, pause and resume are not available.
func signalGroup(pid int, sig Signal) error {
	switch sig {
	case SignalTerminate, SignalKill:
		p, err := os.FindProcess(pid)
		if err != nil {
			return errors.WrapProcessError(errors.CodeNoSuchProcess, sig.String(), pid, err)
		}
		if err := p.Kill(); err != nil {
			return errors.WrapProcessError(errors.CodeNoSuchProcess, sig.String(), pid, err)
		}
		return nil
	default:
		pe := errors.NewProcessError(errors.CodeUnsupported, sig.String(), "signal not supported on this platform")
		pe.PID = pid
		return pe
	}
}

func exitStatusFrom(state *os.ProcessState, err error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1, Err: err}
	}
	return ExitStatus{Code: state.ExitCode()}
}
