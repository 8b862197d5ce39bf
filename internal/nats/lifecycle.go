package nats

import (
	"encoding/json"
	"fmt"

	"github.com/stone-age-io/servicehost/internal/events"
	"go.uber.org/zap"
)

// Publisher is the subset of Client used by the lifecycle emitter
type Publisher interface {
	Publish(subject string, data []byte) error
}

// LifecycleEmitter publishes lifecycle events as JSON on
// <prefix>.<service>.lifecycle.<kind>
type LifecycleEmitter struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

// NewLifecycleEmitter creates an emitter publishing through pub
func NewLifecycleEmitter(pub Publisher, prefix string, logger *zap.Logger) *LifecycleEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleEmitter{pub: pub, prefix: prefix, logger: logger}
}

// LifecycleSubject returns the subject an event kind is published on
func LifecycleSubject(prefix, service string, kind events.Kind) string {
	return fmt.Sprintf("%s.%s.lifecycle.%s", prefix, service, kind)
}

// Emit implements events.Emitter. Publish failures are logged and dropped.
func (l *LifecycleEmitter) Emit(e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Error("Failed to marshal lifecycle event", zap.String("kind", string(e.Kind)), zap.Error(err))
		return
	}

	subject := LifecycleSubject(l.prefix, e.Service, e.Kind)
	if err := l.pub.Publish(subject, data); err != nil {
		l.logger.Warn("Failed to publish lifecycle event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	l.logger.Debug("Published lifecycle event",
		zap.String("subject", subject),
		zap.Int("bytes", len(data)))
}
