//go:build !windows

package signals

import (
	"os"
	"syscall"
)

// terminationSignals returns SIGINT (Ctrl+C) and SIGTERM, the signal process
// managers and container runtimes send to request a graceful stop.
func terminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
