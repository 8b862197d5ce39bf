package host

import (
	"fmt"
	"time"
)

// State is the service state reported to the service manager. Values match
// the Windows SERVICE_* state codes.
type State uint32

const (
	StateStopped      State = 1
	StateStartPending State = 2
	StateStopPending  State = 3
	StateRunning      State = 4
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStartPending:
		return "START_PENDING"
	case StateStopPending:
		return "STOP_PENDING"
	case StateRunning:
		return "RUNNING"
	default:
		return fmt.Sprintf("STATE(%d)", uint32(s))
	}
}

// rank orders states along the only legal path
// START_PENDING -> RUNNING -> STOP_PENDING -> STOPPED
func (s State) rank() int {
	switch s {
	case StateStartPending:
		return 1
	case StateRunning:
		return 2
	case StateStopPending:
		return 3
	case StateStopped:
		return 4
	default:
		return 0
	}
}

// Accepted is the bitmask of controls the service accepts
type Accepted uint32

// AcceptStop matches SERVICE_ACCEPT_STOP
const AcceptStop Accepted = 0x1

// Control is a control code delivered by the service manager. Values match
// the Windows SERVICE_CONTROL_* codes; anything but Stop and Interrogate is
// ignored.
type Control uint32

const (
	ControlStop        Control = 1
	ControlInterrogate Control = 4
)

// String returns the control name
func (c Control) String() string {
	switch c {
	case ControlStop:
		return "STOP"
	case ControlInterrogate:
		return "INTERROGATE"
	default:
		return fmt.Sprintf("CONTROL(%d)", uint32(c))
	}
}

// Status is the service status record
type Status struct {
	State      State
	Accepts    Accepted
	CheckPoint uint32
	WaitHint   time.Duration
}

// StatusReporter delivers a status record to the service manager. It is
// called with the session lock held, so reports arrive strictly ordered.
type StatusReporter interface {
	ReportStatus(Status) error
}

// ReporterFunc adapts a function to StatusReporter
type ReporterFunc func(Status) error

// ReportStatus calls f(s)
func (f ReporterFunc) ReportStatus(s Status) error { return f(s) }

// acceptsFor returns the controls accepted in state s
func acceptsFor(s State) Accepted {
	switch s {
	case StateRunning, StateStopPending:
		return AcceptStop
	default:
		return 0
	}
}
