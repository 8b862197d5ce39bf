//go:build windows

package workload

import "os"

// interrupt terminates the child. Windows has no way to deliver a console
// control event to a child of a service, so a stop is a kill.
func interrupt(p *os.Process) error {
	return p.Kill()
}

// stoppedCleanly treats any exit after a stop as clean since the stop
// itself killed the process
func stoppedCleanly(err error) bool {
	return true
}
