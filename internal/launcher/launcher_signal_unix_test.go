//go:build !windows

package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stone-age-io/servicehost/internal/signals"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
)

const repeatedSignalChildEnv = "SERVICEHOST_REPEATED_SIGNAL_CHILD"

// TestRepeatedSignalDuringGrace tests that a second SIGTERM while the task is
// stopping does not kill the process before the run reaches its outcome. It
// re-executes the test binary so the real signal disposition is exercised.
func TestRepeatedSignalDuringGrace(t *testing.T) {
	if os.Getenv(repeatedSignalChildEnv) == "1" {
		runRepeatedSignalChild()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestRepeatedSignalDuringGrace$", "-test.v")
	cmd.Env = append(os.Environ(), repeatedSignalChildEnv+"=1")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("child error = %v\n%s", err, output)
	}
	if !strings.Contains(string(output), "outcome=stopped cause=signal") {
		t.Errorf("child output missing outcome:\n%s", output)
	}
}

func runRepeatedSignalChild() {
	listener, err := signals.New(nil)
	if err != nil {
		fmt.Println("signals.New error:", err)
		os.Exit(3)
	}
	defer listener.Close()

	stop := stopsignal.New()
	task := func(ctx context.Context, s *stopsignal.Signal) error {
		<-s.Done()
		time.Sleep(500 * time.Millisecond)
		return nil
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		syscall.Kill(os.Getpid(), syscall.SIGTERM)
		time.Sleep(200 * time.Millisecond)
		syscall.Kill(os.Getpid(), syscall.SIGTERM)
	}()

	l := New(task, stop, Options{
		GracePeriod: 2 * time.Second,
		Watcher:     listener,
	})
	out := l.Run(context.Background())
	fmt.Printf("outcome=%s cause=%s\n", out.Kind, out.Cause)
}
