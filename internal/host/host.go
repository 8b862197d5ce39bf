// Package host adapts a launcher run to the environment the process was
// started in: an interactive console or the Windows service control manager.
package host

import (
	"context"
	"time"

	"github.com/stone-age-io/servicehost/internal/events"
	"github.com/stone-age-io/servicehost/internal/launcher"
	"go.uber.org/zap"
)

const (
	DefaultStartWaitHint      = 3 * time.Second
	DefaultStopWaitHint       = 10 * time.Second
	DefaultCheckpointInterval = 100 * time.Millisecond
)

// Host runs a launcher to completion in a particular environment
type Host interface {
	// Name identifies the host kind in logs
	Name() string
	// Run blocks until the run is over. An error means the run never started.
	Run(l *launcher.Launcher) (launcher.Outcome, error)
}

// Options configures a Host and its Session
type Options struct {
	ServiceName        string
	StartWaitHint      time.Duration
	StopWaitHint       time.Duration
	CheckpointInterval time.Duration
	// Debug runs the service-manager protocol against the console, Windows only
	Debug bool

	Logger *zap.Logger
	Events *events.Bus
	// Probe samples process RSS (MB) and thread count for the stopped event
	Probe func() (float64, int32)
}

func (o Options) withDefaults() Options {
	if o.StartWaitHint <= 0 {
		o.StartWaitHint = DefaultStartWaitHint
	}
	if o.StopWaitHint <= 0 {
		o.StopWaitHint = DefaultStopWaitHint
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = DefaultCheckpointInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Console runs the launcher directly; termination signals reach it through
// the launcher's watcher.
type Console struct {
	opts Options
}

// NewConsole creates a console host
func NewConsole(opts Options) *Console {
	return &Console{opts: opts.withDefaults()}
}

// Name implements Host
func (c *Console) Name() string { return "console" }

// Run implements Host
func (c *Console) Run(l *launcher.Launcher) (launcher.Outcome, error) {
	c.opts.Logger.Info("Running in console mode", zap.String("service", c.opts.ServiceName))
	c.opts.Events.Publish(events.Event{Kind: events.KindRunning})

	out := l.Run(context.Background())

	e := events.Event{
		Kind:      events.KindStopped,
		Cause:     out.Cause,
		Outcome:   out.Kind.String(),
		ElapsedMS: out.Elapsed.Milliseconds(),
	}
	if out.Err != nil {
		e.Error = out.Err.Error()
	}
	if c.opts.Probe != nil {
		e.RSSMB, e.Threads = c.opts.Probe()
	}
	c.opts.Events.Publish(e)
	return out, nil
}
