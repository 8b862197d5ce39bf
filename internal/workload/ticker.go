package workload

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
)

// Ticker is an in-process worker that does one unit of work per interval
// until stopped
type Ticker struct {
	interval time.Duration
	logger   *zap.Logger
	work     func(n uint64)
	ticks    atomic.Uint64
}

// NewTicker creates a ticker that logs each tick
func NewTicker(interval time.Duration, logger *zap.Logger) *Ticker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Ticker{interval: interval, logger: logger}
	t.work = func(n uint64) {
		t.logger.Info("Working", zap.Uint64("tick", n))
	}
	return t
}

// Ticks returns the number of completed ticks
func (t *Ticker) Ticks() uint64 {
	return t.ticks.Load()
}

// Run implements launcher.Task
func (t *Ticker) Run(ctx context.Context, stop *stopsignal.Signal) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(t.interval),
		gocron.NewTask(func() {
			t.work(t.ticks.Add(1))
		}),
		gocron.WithName("ticker"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.Shutdown()
		return fmt.Errorf("failed to schedule ticker job: %w", err)
	}

	s.Start()
	t.logger.Info("Ticker started", zap.Duration("interval", t.interval))

	select {
	case <-stop.Done():
		t.logger.Info("Ticker stopping", zap.Uint64("ticks", t.Ticks()))
		if err := s.Shutdown(); err != nil {
			return fmt.Errorf("scheduler shutdown: %w", err)
		}
		return nil

	case <-ctx.Done():
		// Aborted; do not wait for a running tick
		go s.Shutdown()
		return ctx.Err()
	}
}
