//go:build windows

package host

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stone-age-io/servicehost/internal/launcher"
	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"
)

// New returns the SCM host when the process was started by the service
// control manager (or Debug is set), otherwise the console host.
func New(opts Options) (Host, error) {
	opts = opts.withDefaults()
	if opts.Debug {
		return &Service{opts: opts, run: debug.Run}, nil
	}

	isService, err := svc.IsWindowsService()
	if err != nil {
		return nil, fmt.Errorf("failed to detect service context: %w", err)
	}
	if !isService {
		return NewConsole(opts), nil
	}
	return &Service{opts: opts, run: svc.Run}, nil
}

// Service registers with the service control manager and runs the launcher
// inside the handler
type Service struct {
	opts Options
	run  func(name string, handler svc.Handler) error
}

// Name implements Host
func (s *Service) Name() string { return "windows-service" }

// Run implements Host. It blocks in the control dispatcher until the
// handler returns. A registration failure is returned before the task ever
// starts.
func (s *Service) Run(l *launcher.Launcher) (launcher.Outcome, error) {
	h := &handler{opts: s.opts, launcher: l}

	s.opts.Logger.Info("Registering with service control manager",
		zap.String("service", s.opts.ServiceName))
	if err := s.run(s.opts.ServiceName, h); err != nil {
		return launcher.Outcome{}, fmt.Errorf("service registration failed: %w", err)
	}
	if !h.ran {
		return launcher.Outcome{}, fmt.Errorf("service dispatcher returned without starting %s", s.opts.ServiceName)
	}
	return h.outcome, nil
}

type handler struct {
	opts     Options
	launcher *launcher.Launcher

	ran     bool
	outcome launcher.Outcome
}

// Execute implements svc.Handler
func (h *handler) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	sess := NewSession(newChangeReporter(changes), h.launcher.Stop(), h.opts)

	go func() {
		for {
			select {
			case req := <-r:
				sess.HandleControl(Control(req.Cmd))
			case <-sess.Done():
				return
			}
		}
	}()

	h.outcome = sess.Run(h.launcher)
	h.ran = true

	h.opts.Logger.Info("Service run finished",
		zap.String("outcome", h.outcome.Kind.String()),
		zap.String("cause", h.outcome.Cause))

	// Always a clean stop from the manager's point of view; the outcome is
	// carried by logs, events and metrics.
	return false, 0
}

// reportTimeout bounds a status send. The dispatcher stops reading changes
// once a status update fails, and the session must still reach STOPPED.
const reportTimeout = 2 * time.Second

var errDispatcherGone = errors.New("service dispatcher is not accepting status updates")

// changeReporter forwards status records to the dispatcher
type changeReporter struct {
	changes chan<- svc.Status
	timeout time.Duration
	gone    atomic.Bool
}

func newChangeReporter(changes chan<- svc.Status) *changeReporter {
	return &changeReporter{changes: changes, timeout: reportTimeout}
}

// ReportStatus implements StatusReporter. STOPPED is skipped because the
// dispatcher reports it itself once Execute returns. After one send times
// out every later report fails immediately.
func (c *changeReporter) ReportStatus(st Status) error {
	if st.State == StateStopped {
		return nil
	}
	if c.gone.Load() {
		return errDispatcherGone
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case c.changes <- svc.Status{
		State:      svc.State(st.State),
		Accepts:    svc.Accepted(st.Accepts),
		CheckPoint: st.CheckPoint,
		WaitHint:   uint32(st.WaitHint.Milliseconds()),
	}:
		return nil
	case <-timer.C:
		c.gone.Store(true)
		return errDispatcherGone
	}
}

// IsService reports whether the process was started by the service control
// manager
func IsService() (bool, error) {
	return svc.IsWindowsService()
}
