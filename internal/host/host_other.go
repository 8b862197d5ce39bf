//go:build !windows

package host

// New returns the console host; there is no native service manager protocol
// to speak outside Windows. Under systemd or launchd the process simply runs
// in the foreground and receives SIGTERM.
func New(opts Options) (Host, error) {
	return NewConsole(opts), nil
}

// IsService reports whether the process was started by a service manager
// that speaks a status protocol
func IsService() (bool, error) {
	return false, nil
}
