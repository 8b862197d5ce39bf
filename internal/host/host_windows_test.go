//go:build windows

package host

import (
	"errors"
	"testing"
	"time"

	"github.com/stone-age-io/servicehost/internal/launcher"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"golang.org/x/sys/windows/svc"
)

func TestChangeReporterForwards(t *testing.T) {
	changes := make(chan svc.Status, 1)
	rep := newChangeReporter(changes)

	err := rep.ReportStatus(Status{
		State:      StateStopPending,
		CheckPoint: 3,
		WaitHint:   10 * time.Second,
	})
	if err != nil {
		t.Fatalf("ReportStatus() error = %v", err)
	}

	got := <-changes
	if got.State != svc.StopPending || got.CheckPoint != 3 || got.WaitHint != 10000 {
		t.Errorf("forwarded %+v", got)
	}

	if err := rep.ReportStatus(Status{State: StateStopped}); err != nil {
		t.Errorf("ReportStatus(STOPPED) error = %v", err)
	}
	if len(changes) != 0 {
		t.Error("STOPPED forwarded to the dispatcher")
	}
}

// TestChangeReporterDispatcherGone tests that a dispatcher that stopped
// reading cannot wedge the session
func TestChangeReporterDispatcherGone(t *testing.T) {
	rep := newChangeReporter(make(chan svc.Status))
	rep.timeout = 20 * time.Millisecond

	err := rep.ReportStatus(Status{State: StateRunning})
	if !errors.Is(err, errDispatcherGone) {
		t.Fatalf("ReportStatus() error = %v, want %v", err, errDispatcherGone)
	}

	start := time.Now()
	if err := rep.ReportStatus(Status{State: StateStopPending}); !errors.Is(err, errDispatcherGone) {
		t.Errorf("second ReportStatus() error = %v, want %v", err, errDispatcherGone)
	}
	if waited := time.Since(start); waited >= rep.timeout {
		t.Errorf("second ReportStatus() waited %v, want immediate failure", waited)
	}

	stop := stopsignal.New()
	l := launcher.New(lingeringTask(50*time.Millisecond), stop, launcher.Options{})
	sess := NewSession(rep, stop, testOptions())
	done := runSession(sess, l)

	sess.HandleControl(ControlStop)

	select {
	case res := <-done:
		if res.outcome.Kind != launcher.KindStopped {
			t.Errorf("Kind = %v, want stopped", res.outcome.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish with a dead dispatcher")
	}
}
