package host

import (
	"context"
	"testing"

	"github.com/stone-age-io/servicehost/internal/events"
	"github.com/stone-age-io/servicehost/internal/launcher"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
)

func TestConsoleRun(t *testing.T) {
	var got []events.Event
	bus := events.NewBus("test", events.EmitterFunc(func(e events.Event) {
		got = append(got, e)
	}))

	stop := stopsignal.New()
	l := launcher.New(func(ctx context.Context, stop *stopsignal.Signal) error {
		return nil
	}, stop, launcher.Options{})

	c := NewConsole(Options{
		ServiceName: "test",
		Events:      bus,
		Probe:       func() (float64, int32) { return 12.5, 7 },
	})

	out, err := c.Run(l)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Kind != launcher.KindCompleted {
		t.Errorf("Outcome kind = %v, want completed", out.Kind)
	}

	last := got[len(got)-1]
	if last.Kind != events.KindStopped {
		t.Fatalf("last event = %s, want %s", last.Kind, events.KindStopped)
	}
	if last.Outcome != "completed" {
		t.Errorf("stopped event outcome = %q, want completed", last.Outcome)
	}
	if last.RSSMB != 12.5 || last.Threads != 7 {
		t.Errorf("probe values not attached: rss=%v threads=%d", last.RSSMB, last.Threads)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()

	if o.StartWaitHint != DefaultStartWaitHint {
		t.Errorf("StartWaitHint = %v, want %v", o.StartWaitHint, DefaultStartWaitHint)
	}
	if o.StopWaitHint != DefaultStopWaitHint {
		t.Errorf("StopWaitHint = %v, want %v", o.StopWaitHint, DefaultStopWaitHint)
	}
	if o.CheckpointInterval != DefaultCheckpointInterval {
		t.Errorf("CheckpointInterval = %v, want %v", o.CheckpointInterval, DefaultCheckpointInterval)
	}
	if o.CheckpointInterval >= o.StopWaitHint {
		t.Error("checkpoint cadence must be below the stop wait hint")
	}
	if o.Logger == nil {
		t.Error("Logger should default to a no-op logger")
	}
}
