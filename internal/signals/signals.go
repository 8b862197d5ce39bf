// Package signals turns process termination signals into a stop request.
package signals

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
)

// Replaceable in tests
var (
	signalNotify = signal.Notify
	signalStop   = signal.Stop
)

// Listener watches for termination signals for the lifetime of the process.
// The subscription is taken in New and held until Close, so a signal that
// arrives before Listen runs, or a repeated one while the task is stopping,
// never falls through to the default action of killing the process.
type Listener struct {
	logger  *zap.Logger
	signals []os.Signal
	sigCh   chan os.Signal

	closeOnce sync.Once
}

// New subscribes to sigs, or to the platform's termination signals when sigs
// is empty. A listener that cannot watch anything is an error: a host that
// silently ignores Ctrl+C is worse than one that refuses to start.
func New(logger *zap.Logger, sigs ...os.Signal) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sigs) == 0 {
		sigs = terminationSignals()
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no termination signals available on this platform")
	}
	for i, sig := range sigs {
		if sig == nil {
			return nil, fmt.Errorf("signal %d is nil", i)
		}
	}

	l := &Listener{
		logger:  logger,
		signals: sigs,
		sigCh:   make(chan os.Signal, 1),
	}
	signalNotify(l.sigCh, l.signals...)
	return l, nil
}

// Close releases the subscription, restoring the default signal handling.
// Call it only once the process no longer needs a clean shutdown path.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		signalStop(l.sigCh)
	})
}

// Signals returns the signals the listener watches.
func (l *Listener) Signals() []os.Signal {
	out := make([]os.Signal, len(l.signals))
	copy(out, l.signals)
	return out
}

// Listen blocks until a termination signal arrives, stop fires, or ctx is
// cancelled. A received signal triggers stop. Every exit is a success. The
// subscription outlives Listen; signals delivered after it returns are
// swallowed until Close.
func (l *Listener) Listen(ctx context.Context, stop *stopsignal.Signal) error {
	select {
	case sig := <-l.sigCh:
		l.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		stop.TriggerWithCause(stopsignal.CauseSignal)
	case <-stop.Done():
		l.logger.Debug("Stop requested, signal listener exiting")
	case <-ctx.Done():
		l.logger.Debug("Signal listener cancelled")
	}

	return nil
}
