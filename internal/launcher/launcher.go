// Package launcher runs the hosted task next to the signal listener, races it
// against the stop signal, and escalates to a hard abort when the task does not
// stop within the grace period.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/stone-age-io/servicehost/internal/events"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
)

const (
	// DefaultGracePeriod is how long a stopping task may take before it is aborted
	DefaultGracePeriod = 16 * time.Second

	defaultWaitInterval = time.Second
	listenerExitTimeout = time.Second
)

var (
	// ErrForced is the outcome error of a task aborted after the grace period
	ErrForced = errors.New("task did not stop within grace period")

	// ErrTaskPanic wraps a panic recovered from the task
	ErrTaskPanic = errors.New("task panicked")
)

// Task is the hosted workload. It must return once stop fires; ctx is only
// cancelled on a hard abort after the grace period, and the launcher does not
// wait for the task after that.
type Task func(ctx context.Context, stop *stopsignal.Signal) error

// Watcher is the signal listener contract: block until a termination signal
// (then trigger stop), stop firing, or ctx cancellation.
type Watcher interface {
	Listen(ctx context.Context, stop *stopsignal.Signal) error
}

// Options tunes a Launcher. Zero values take defaults.
type Options struct {
	GracePeriod time.Duration
	// WaitInterval is the cadence of "still waiting" events during escalation
	WaitInterval time.Duration
	Watcher      Watcher
	Logger       *zap.Logger
	Events       *events.Bus
}

// Launcher is the per-run scheduler for one task. Run may be called once.
type Launcher struct {
	task         Task
	stop         *stopsignal.Signal
	watcher      Watcher
	grace        time.Duration
	waitInterval time.Duration
	logger       *zap.Logger
	events       *events.Bus
}

// New creates a launcher for task sharing stop with every other participant.
func New(task Task, stop *stopsignal.Signal, opts Options) *Launcher {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = defaultWaitInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Launcher{
		task:         task,
		stop:         stop,
		watcher:      opts.Watcher,
		grace:        opts.GracePeriod,
		waitInterval: opts.WaitInterval,
		logger:       opts.Logger,
		events:       opts.Events,
	}
}

// Stop returns the shared stop signal
func (l *Launcher) Stop() *stopsignal.Signal {
	return l.stop
}

// GracePeriod returns the escalation bound
func (l *Launcher) GracePeriod() time.Duration {
	return l.grace
}

// Run starts the task and the listener and blocks until the run reaches its
// terminal state. Cancelling ctx is an external stop request, not an abort.
// Task failures and panics end up in the Outcome; Run itself never fails.
func (l *Launcher) Run(ctx context.Context) Outcome {
	start := time.Now()

	// Hard-abort context for the task, independent of ctx
	taskCtx, abort := context.WithCancel(context.Background())
	defer abort()

	listenCtx, cancelListener := context.WithCancel(context.Background())
	listenerDone := l.startListener(listenCtx)

	taskDone := make(chan error, 1)
	go func() {
		taskDone <- l.runTask(taskCtx)
	}()
	l.events.Publish(events.Event{Kind: events.KindTaskStarted})

	go func() {
		select {
		case <-ctx.Done():
			l.stop.TriggerWithCause(stopsignal.CauseExternal)
		case <-l.stop.Done():
		}
	}()

	var out Outcome
	select {
	case err := <-taskDone:
		if l.stop.TriggerWithCause(stopsignal.CauseTask) {
			out = Outcome{Kind: KindCompleted, Err: err, Cause: stopsignal.CauseTask}
			if err != nil {
				l.logger.Error("Task failed", zap.Error(err))
				l.events.Publish(events.Event{Kind: events.KindTaskFailed, Error: err.Error()})
			} else {
				l.logger.Info("Task completed")
			}
		} else {
			// Stop fired at the same instant the task returned
			out = Outcome{Kind: KindStopped, Err: err, Cause: l.stop.Cause()}
			l.logStopped(out)
		}

	case <-l.stop.Done():
		out = l.escalate(taskDone, abort)
	}

	cancelListener()
	l.waitListener(listenerDone)

	out.Elapsed = time.Since(start)
	l.publishOutcome(out)
	return out
}

// escalate waits for a stopping task, bounded by the grace period measured
// from the moment the stop was observed here.
func (l *Launcher) escalate(taskDone <-chan error, abort context.CancelFunc) Outcome {
	observed := time.Now()
	cause := l.stop.Cause()

	l.logger.Info("Stop requested, waiting for task",
		zap.String("cause", cause),
		zap.Duration("grace_period", l.grace))
	l.events.Publish(events.Event{Kind: events.KindStopRequested, Cause: cause})

	grace := time.NewTimer(l.grace)
	defer grace.Stop()
	ticker := time.NewTicker(l.waitInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-taskDone:
			out := Outcome{Kind: KindStopped, Err: err, Cause: cause, StopLatency: time.Since(observed)}
			l.logStopped(out)
			return out

		case <-ticker.C:
			waited := time.Since(observed)
			l.logger.Debug("Still waiting for task to stop",
				zap.Duration("waited", waited),
				zap.Duration("remaining", l.grace-waited))
			l.events.Publish(events.Event{
				Kind:      events.KindStopWaiting,
				Cause:     cause,
				ElapsedMS: waited.Milliseconds(),
			})

		case <-grace.C:
			abort()
			l.logger.Warn("Task did not stop in time, aborting",
				zap.Duration("grace_period", l.grace))
			return Outcome{Kind: KindForced, Err: ErrForced, Cause: cause, StopLatency: time.Since(observed)}
		}
	}
}

// runTask calls the task, converting a panic into an error
func (l *Launcher) runTask(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic recovered in task",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return l.task(ctx, l.stop)
}

func (l *Launcher) startListener(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if l.watcher == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("Panic recovered in signal listener", zap.Any("panic", r))
			}
		}()
		if err := l.watcher.Listen(ctx, l.stop); err != nil {
			l.logger.Warn("Signal listener exited with error", zap.Error(err))
		}
	}()
	return done
}

func (l *Launcher) waitListener(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(listenerExitTimeout):
		l.logger.Warn("Signal listener did not exit after cancellation")
	}
}

func (l *Launcher) logStopped(out Outcome) {
	if out.Err != nil {
		l.logger.Warn("Task stopped with error",
			zap.String("cause", out.Cause),
			zap.Duration("stop_latency", out.StopLatency),
			zap.Error(out.Err))
		l.events.Publish(events.Event{Kind: events.KindTaskFailed, Cause: out.Cause, Error: out.Err.Error()})
		return
	}
	l.logger.Info("Task stopped gracefully",
		zap.String("cause", out.Cause),
		zap.Duration("stop_latency", out.StopLatency))
}

func (l *Launcher) publishOutcome(out Outcome) {
	e := events.Event{
		Kind:      events.KindGraceful,
		Cause:     out.Cause,
		Outcome:   out.Kind.String(),
		ElapsedMS: out.StopLatency.Milliseconds(),
	}
	switch out.Kind {
	case KindCompleted:
		e.Kind = events.KindCompleted
	case KindForced:
		e.Kind = events.KindForced
	}
	if out.Err != nil {
		e.Error = out.Err.Error()
	}
	l.events.Publish(e)
}
