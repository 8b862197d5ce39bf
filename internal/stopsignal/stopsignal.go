// Package stopsignal provides the level-triggered "shutdown requested"
// condition shared by the launcher, the signal listener, the hosted task and
// the platform service host.
package stopsignal

import (
	"context"
	"sync"
	"sync/atomic"
)

// Trigger causes.
const (
	CauseExternal = "external"
	CauseSignal   = "signal"
	CauseManager  = "manager"
	CauseTask     = "task"
	CauseRemote   = "remote"
)

// Signal is a broadcast, level-triggered stop request. Once triggered it stays
// triggered; every current and future waiter is released. The zero value is
// not usable; create one with New.
type Signal struct {
	once      sync.Once
	done      chan struct{}
	triggered atomic.Bool
	cause     string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an untriggered signal.
func New() *Signal {
	ctx, cancel := context.WithCancel(context.Background())
	return &Signal{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Trigger fires the signal. It is safe to call from any goroutine, any number
// of times; only the first call has an effect, and only that call returns true.
func (s *Signal) Trigger() bool {
	return s.TriggerWithCause(CauseExternal)
}

// TriggerWithCause is Trigger, recording who asked for the stop. The cause of
// the first effective call wins.
func (s *Signal) TriggerWithCause(cause string) bool {
	fired := false
	s.once.Do(func() {
		s.cause = cause
		s.triggered.Store(true)
		close(s.done)
		s.cancel()
		fired = true
	})
	return fired
}

// Wait blocks until the signal is triggered or ctx ends. It returns
// immediately when the signal has already fired.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed when the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Triggered reports whether the signal has fired.
func (s *Signal) Triggered() bool {
	return s.triggered.Load()
}

// Cause returns the cause recorded by the effective trigger, or "" while the
// signal has not fired.
func (s *Signal) Cause() string {
	select {
	case <-s.done:
		return s.cause
	default:
		return ""
	}
}

// Context returns a context that is cancelled when the signal fires. Tasks
// written against context.Context can cooperate through it.
func (s *Signal) Context() context.Context {
	return s.ctx
}
