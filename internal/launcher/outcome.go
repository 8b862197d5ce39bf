package launcher

import "time"

// Kind is the terminal kind of a run
type Kind int

const (
	// KindCompleted: the task returned before any stop was requested
	KindCompleted Kind = iota
	// KindStopped: a stop was requested and the task returned within the grace period
	KindStopped
	// KindForced: the task ignored the stop and was aborted
	KindForced
)

// String returns the name used in logs, events and metric labels
func (k Kind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindStopped:
		return "stopped"
	case KindForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Outcome is the terminal status of a run
type Outcome struct {
	Kind Kind
	// Err is the task's own error, ErrForced for a forced stop, or nil
	Err error
	// Cause names who started the shutdown (see stopsignal.Cause*)
	Cause string
	// Elapsed is the wall time of the whole run
	Elapsed time.Duration
	// StopLatency is measured from the moment the stop was observed; zero when
	// the task completed on its own
	StopLatency time.Duration
}

// Graceful reports whether the task returned on its own
func (o Outcome) Graceful() bool {
	return o.Kind != KindForced
}

// Failed reports whether the task returned an error
func (o Outcome) Failed() bool {
	return o.Kind != KindForced && o.Err != nil
}

// ExitCode maps the outcome to a process exit code: 0 clean, 1 task error,
// 2 forced.
func (o Outcome) ExitCode() int {
	switch {
	case o.Kind == KindForced:
		return 2
	case o.Err != nil:
		return 1
	default:
		return 0
	}
}
