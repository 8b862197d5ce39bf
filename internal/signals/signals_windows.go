//go:build windows

package signals

import "os"

// terminationSignals returns os.Interrupt only. Windows has no SIGTERM; the Go
// runtime maps CTRL_BREAK_EVENT and console close to os.Interrupt. Under the
// service manager the stop control arrives through the host instead.
func terminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
