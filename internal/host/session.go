package host

import (
	"context"
	"sync"
	"time"

	"github.com/stone-age-io/servicehost/internal/events"
	"github.com/stone-age-io/servicehost/internal/launcher"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
)

// Session is the per-run context shared between the service manager's
// control goroutine and the run loop. It owns the status record, the local
// stop event and the stop-pending heartbeat. The control path only ever
// triggers the stop signal and reports status; no task code runs on it.
type Session struct {
	opts     Options
	reporter StatusReporter
	stop     *stopsignal.Signal
	logger   *zap.Logger
	events   *events.Bus

	mu        sync.Mutex
	status    Status
	heartbeat chan struct{} // closed when the heartbeat goroutine exits

	// stopEvent is closed once the launcher has returned
	stopEvent     chan struct{}
	stopEventOnce sync.Once
}

// NewSession creates a session that reports through reporter
func NewSession(reporter StatusReporter, stop *stopsignal.Signal, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		opts:      opts,
		reporter:  reporter,
		stop:      stop,
		logger:    opts.Logger,
		events:    opts.Events,
		stopEvent: make(chan struct{}),
	}
}

// Status returns a copy of the current status record
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done returns the local stop event, closed once the run has returned
func (s *Session) Done() <-chan struct{} {
	return s.stopEvent
}

// Run reports START_PENDING and RUNNING, runs l, blocks on the local stop
// event, then reports STOPPED exactly once and releases the heartbeat.
func (s *Session) Run(l *launcher.Launcher) launcher.Outcome {
	s.transition(StateStartPending, s.opts.StartWaitHint)
	s.events.Publish(events.Event{Kind: events.KindStarting, State: StateStartPending.String()})

	s.transition(StateRunning, 0)
	s.events.Publish(events.Event{Kind: events.KindRunning, State: StateRunning.String()})

	// Any stop, not only a manager control, moves the record to STOP_PENDING
	go func() {
		select {
		case <-s.stop.Done():
			s.enterStopPending()
		case <-s.stopEvent:
		}
	}()

	var out launcher.Outcome
	go func() {
		out = l.Run(context.Background())
		s.stopEventOnce.Do(func() { close(s.stopEvent) })
	}()

	<-s.stopEvent
	s.finish(out)
	return out
}

// HandleControl processes one control from the service manager. It may be
// called from any goroutine, concurrently with Run.
func (s *Session) HandleControl(c Control) {
	switch c {
	case ControlStop:
		s.logger.Info("Stop control received")
		s.enterStopPending()
		s.stop.TriggerWithCause(stopsignal.CauseManager)

	case ControlInterrogate:
		s.mu.Lock()
		// Nothing to re-report before Run has sent START_PENDING
		if s.status.State != 0 {
			s.report(events.KindStatusReport)
		}
		s.mu.Unlock()

	default:
		s.logger.Debug("Ignoring service control", zap.Stringer("control", c))
	}
}

// enterStopPending moves RUNNING to STOP_PENDING and starts the checkpoint
// heartbeat. Later calls are no-ops.
func (s *Session) enterStopPending() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.State != StateRunning {
		return
	}
	s.setLocked(StateStopPending, s.opts.StopWaitHint)

	s.heartbeat = make(chan struct{})
	go s.runHeartbeat(s.heartbeat)
}

// runHeartbeat reports STOP_PENDING with an increasing checkpoint until the
// run returns, so the manager does not consider the service hung.
func (s *Session) runHeartbeat(done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopEvent:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.status.State != StateStopPending {
				s.mu.Unlock()
				return
			}
			s.status.CheckPoint++
			s.report(events.KindStopPending)
			s.mu.Unlock()
		}
	}
}

// finish reports STOPPED and waits for the heartbeat to exit
func (s *Session) finish(out launcher.Outcome) {
	s.mu.Lock()
	s.setLocked(StateStopped, 0)
	heartbeat := s.heartbeat
	s.mu.Unlock()

	if heartbeat != nil {
		<-heartbeat
	}

	e := events.Event{
		Kind:      events.KindStopped,
		State:     StateStopped.String(),
		Cause:     out.Cause,
		Outcome:   out.Kind.String(),
		ElapsedMS: out.Elapsed.Milliseconds(),
	}
	if out.Err != nil {
		e.Error = out.Err.Error()
	}
	if s.opts.Probe != nil {
		e.RSSMB, e.Threads = s.opts.Probe()
	}
	s.events.Publish(e)
}

func (s *Session) transition(next State, waitHint time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(next, waitHint)
}

// setLocked moves the record forward and reports it. Backward or repeated
// transitions are dropped.
func (s *Session) setLocked(next State, waitHint time.Duration) {
	if next.rank() <= s.status.State.rank() {
		s.logger.Debug("Ignoring status transition",
			zap.Stringer("from", s.status.State),
			zap.Stringer("to", next))
		return
	}

	s.status = Status{
		State:    next,
		Accepts:  acceptsFor(next),
		WaitHint: waitHint,
	}
	s.report(events.KindStatusReport)
}

// report sends the current record; failures are logged and ignored since
// they usually mean the manager is already tearing the process down.
func (s *Session) report(kind events.Kind) {
	st := s.status
	e := events.Event{Kind: kind, State: st.State.String(), CheckPoint: st.CheckPoint}

	if err := s.reporter.ReportStatus(st); err != nil {
		s.logger.Warn("Failed to report service status",
			zap.Stringer("state", st.State),
			zap.Uint32("checkpoint", st.CheckPoint),
			zap.Error(err))
		e.Error = err.Error()
	}
	s.events.Publish(e)
}
