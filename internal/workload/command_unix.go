//go:build !windows

package workload

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// interrupt asks the child to terminate
func interrupt(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// stoppedCleanly reports whether a child exit after SIGTERM is a normal
// stop: exit 0, death by SIGTERM, or the shell convention 128+SIGTERM.
func stoppedCleanly(err error) bool {
	if err == nil {
		return true
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() && status.Signal() == syscall.SIGTERM {
			return true
		}
	}
	return exitErr.ExitCode() == 128+int(syscall.SIGTERM)
}
