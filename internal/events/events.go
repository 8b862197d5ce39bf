// Package events carries the host's structured lifecycle events to their
// sinks: the log, the NATS bus and the metrics recorder.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind identifies a lifecycle event
type Kind string

const (
	KindStarting      Kind = "starting"
	KindRunning       Kind = "running"
	KindTaskStarted   Kind = "task_started"
	KindStopRequested Kind = "stop_requested"
	KindStopWaiting   Kind = "stop_waiting"
	KindStopPending   Kind = "stop_pending"
	KindTaskFailed    Kind = "task_failed"
	KindStatusReport  Kind = "status_report"
	KindCompleted     Kind = "completed"
	KindGraceful      Kind = "graceful_stop"
	KindForced        Kind = "forced_stop"
	KindStopped       Kind = "stopped"
)

// Event is one lifecycle event. Service, RunID and Timestamp are filled by
// the Bus.
type Event struct {
	Kind       Kind    `json:"kind"`
	Service    string  `json:"service"`
	RunID      string  `json:"run_id"`
	Timestamp  string  `json:"timestamp"`
	State      string  `json:"state,omitempty"`
	CheckPoint uint32  `json:"checkpoint,omitempty"`
	Cause      string  `json:"cause,omitempty"`
	Outcome    string  `json:"outcome,omitempty"`
	Error      string  `json:"error,omitempty"`
	ElapsedMS  int64   `json:"elapsed_ms,omitempty"`
	RSSMB      float64 `json:"rss_mb,omitempty"`
	Threads    int32   `json:"threads,omitempty"`
}

// Emitter receives published events. Emit must not block for long; it may be
// called from the service manager's control goroutine.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(Event)

// Emit calls f(e)
func (f EmitterFunc) Emit(e Event) { f(e) }

// Bus stamps events with the run identity and fans them out. A nil *Bus
// discards everything, so components can be built without one.
type Bus struct {
	service  string
	runID    string
	now      func() time.Time
	mu       sync.RWMutex
	emitters []Emitter
}

// NewBus creates a bus for one process run of service.
func NewBus(service string, emitters ...Emitter) *Bus {
	return &Bus{
		service:  service,
		runID:    uuid.NewString(),
		now:      time.Now,
		emitters: emitters,
	}
}

// RunID returns the identifier of this process run
func (b *Bus) RunID() string {
	if b == nil {
		return ""
	}
	return b.runID
}

// Attach adds an emitter
func (b *Bus) Attach(e Emitter) {
	if b == nil || e == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitters = append(b.emitters, e)
}

// Publish stamps e and hands it to every emitter in attach order
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	e.Service = b.service
	e.RunID = b.runID
	e.Timestamp = b.now().UTC().Format(time.RFC3339Nano)

	b.mu.RLock()
	emitters := b.emitters
	b.mu.RUnlock()

	for _, em := range emitters {
		em.Emit(e)
	}
}

// LogEmitter writes events to a zap logger. Stop-pending heartbeats go to
// debug so a slow stop does not flood the log.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates a log emitter
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

// Emit logs e
func (l *LogEmitter) Emit(e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Kind)),
		zap.String("run_id", e.RunID),
	}
	if e.State != "" {
		fields = append(fields, zap.String("state", e.State))
	}
	if e.CheckPoint != 0 {
		fields = append(fields, zap.Uint32("checkpoint", e.CheckPoint))
	}
	if e.Cause != "" {
		fields = append(fields, zap.String("cause", e.Cause))
	}
	if e.Outcome != "" {
		fields = append(fields, zap.String("outcome", e.Outcome))
	}
	if e.ElapsedMS != 0 {
		fields = append(fields, zap.Int64("elapsed_ms", e.ElapsedMS))
	}
	if e.RSSMB != 0 {
		fields = append(fields, zap.Float64("rss_mb", e.RSSMB))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}

	switch e.Kind {
	case KindStopPending, KindStatusReport, KindStopWaiting:
		l.logger.Debug("Lifecycle event", fields...)
	case KindTaskFailed, KindForced:
		l.logger.Warn("Lifecycle event", fields...)
	default:
		l.logger.Info("Lifecycle event", fields...)
	}
}
