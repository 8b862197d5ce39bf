//go:build !windows

package workload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func runCommand(t *testing.T, c *Command, ctx context.Context, stop *stopsignal.Signal) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, stop)
	}()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("command did not return")
		return nil
	}
}

func TestCommandCompletes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewCommand("/bin/sh", []string{"-c", "echo hello"}, "", nil, zap.New(core))

	err := waitResult(t, runCommand(t, c, context.Background(), stopsignal.New()))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	found := false
	for _, e := range logs.FilterMessage("hello").All() {
		if e.ContextMap()["stream"] == "stdout" {
			found = true
		}
	}
	if !found {
		t.Error("expected child stdout to be logged")
	}
}

func TestCommandNonZeroExit(t *testing.T) {
	c := NewCommand("/bin/sh", []string{"-c", "exit 3"}, "", nil, nil)

	err := waitResult(t, runCommand(t, c, context.Background(), stopsignal.New()))
	if err == nil {
		t.Fatal("Run() expected error for exit 3")
	}
	if !strings.Contains(err.Error(), "exited with code 3") {
		t.Errorf("Run() error = %v, want exit code 3", err)
	}
}

func TestCommandStartFailure(t *testing.T) {
	c := NewCommand("/nonexistent/binary", nil, "", nil, nil)

	err := waitResult(t, runCommand(t, c, context.Background(), stopsignal.New()))
	if err == nil || !strings.Contains(err.Error(), "failed to start") {
		t.Errorf("Run() error = %v, want start failure", err)
	}
}

func TestCommandEnv(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewCommand("/bin/sh", []string{"-c", "echo $WORKLOAD_NAME"}, "", []string{"WORKLOAD_NAME=svc-test"}, zap.New(core))

	if err := waitResult(t, runCommand(t, c, context.Background(), stopsignal.New())); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if logs.FilterMessage("svc-test").Len() != 1 {
		t.Error("expected env var to reach the child")
	}
}

func TestCommandStopsOnSignal(t *testing.T) {
	c := NewCommand("/bin/sh", []string{"-c", "exec sleep 30"}, "", nil, nil)
	stop := stopsignal.New()

	done := runCommand(t, c, context.Background(), stop)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	stop.Trigger()

	if err := waitResult(t, done); err != nil {
		t.Errorf("Run() error = %v, want nil after SIGTERM", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop took %v", elapsed)
	}
}

func TestCommandTrapsTerm(t *testing.T) {
	script := `trap 'echo cleanup; exit 0' TERM; while true; do sleep 0.05; done`
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewCommand("/bin/sh", []string{"-c", script}, "", nil, zap.New(core))
	stop := stopsignal.New()

	done := runCommand(t, c, context.Background(), stop)
	time.Sleep(100 * time.Millisecond)
	stop.Trigger()

	if err := waitResult(t, done); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if logs.FilterMessage("cleanup").Len() != 1 {
		t.Error("expected the child's TERM handler to run")
	}
}

func TestCommandAbortKills(t *testing.T) {
	// Ignores SIGTERM; only the abort gets rid of it
	script := `trap '' TERM; while true; do sleep 0.05; done`
	c := NewCommand("/bin/sh", []string{"-c", script}, "", nil, nil)
	stop := stopsignal.New()
	ctx, abort := context.WithCancel(context.Background())

	done := runCommand(t, c, ctx, stop)
	time.Sleep(100 * time.Millisecond)
	stop.Trigger()

	select {
	case err := <-done:
		t.Fatalf("command returned before abort: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	abort()
	if err := waitResult(t, done); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
