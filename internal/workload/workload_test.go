package workload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stone-age-io/servicehost/internal/config"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.WorkloadConfig
		wantErr bool
	}{
		{name: "ticker", cfg: config.WorkloadConfig{Kind: config.WorkloadTicker, Interval: time.Second}},
		{name: "command", cfg: config.WorkloadConfig{Kind: config.WorkloadCommand, Command: "/bin/true"}},
		{name: "unknown", cfg: config.WorkloadConfig{Kind: "cron"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := New(tt.cfg, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && task == nil {
				t.Error("New() returned nil task")
			}
		})
	}
}

func TestTickerStopsOnSignal(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ticker := NewTicker(20*time.Millisecond, zap.New(core))
	stop := stopsignal.New()

	done := make(chan error, 1)
	go func() {
		done <- ticker.Run(context.Background(), stop)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ticker.Ticks() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ticker.Ticks() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticker.Ticks())
	}

	stop.Trigger()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop")
	}

	if logs.FilterMessage("Working").Len() < 3 {
		t.Errorf("expected Working log per tick, got %d", logs.FilterMessage("Working").Len())
	}

	// No ticks after stop
	after := ticker.Ticks()
	time.Sleep(60 * time.Millisecond)
	if ticker.Ticks() != after {
		t.Errorf("ticker kept running after stop: %d -> %d", after, ticker.Ticks())
	}
}

func TestTickerAbort(t *testing.T) {
	ticker := NewTicker(time.Hour, nil)
	stop := stopsignal.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- ticker.Run(ctx, stop)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not return after abort")
	}
}
