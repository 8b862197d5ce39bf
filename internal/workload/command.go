package workload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
)

const outputWaitDelay = 2 * time.Second

// Command runs an external executable as the hosted task. A stop request is
// forwarded to the child (see interrupt); a hard abort kills it.
type Command struct {
	path   string
	args   []string
	dir    string
	env    []string
	logger *zap.Logger
}

// NewCommand creates a command workload. env entries (KEY=value) are added
// to the host's environment.
func NewCommand(path string, args []string, dir string, env []string, logger *zap.Logger) *Command {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{path: path, args: args, dir: dir, env: env, logger: logger}
}

// Run implements launcher.Task
func (c *Command) Run(ctx context.Context, stop *stopsignal.Signal) error {
	cmd := exec.Command(c.path, c.args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}

	stdout := &zapio.Writer{Log: c.logger.With(zap.String("stream", "stdout")), Level: zapcore.InfoLevel}
	stderr := &zapio.Writer{Log: c.logger.With(zap.String("stream", "stderr")), Level: zapcore.WarnLevel}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Grandchildren holding the output pipes must not stall Wait
	cmd.WaitDelay = outputWaitDelay

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.path, err)
	}
	c.logger.Info("Command started",
		zap.String("command", c.path),
		zap.Strings("args", c.args),
		zap.Int("pid", cmd.Process.Pid))

	// Wait returns once the output has been copied; the writers are flushed
	// after that, not on abort.
	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		done <- err
	}()

	select {
	case err := <-done:
		return c.exitError(err)

	case <-stop.Done():
		c.logger.Info("Stopping command", zap.Int("pid", cmd.Process.Pid))
		if err := interrupt(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.logger.Warn("Failed to signal command", zap.Error(err))
		}

	case <-ctx.Done():
		c.kill(cmd.Process)
		return ctx.Err()
	}

	select {
	case err := <-done:
		if stoppedCleanly(err) {
			c.logger.Info("Command exited after stop")
			return nil
		}
		return c.exitError(err)

	case <-ctx.Done():
		c.kill(cmd.Process)
		return ctx.Err()
	}
}

func (c *Command) kill(p *os.Process) {
	c.logger.Warn("Killing command", zap.Int("pid", p.Pid))
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Error("Failed to kill command", zap.Error(err))
	}
}

// exitError converts a Wait error into the task's result
func (c *Command) exitError(err error) error {
	if err == nil {
		c.logger.Info("Command exited", zap.Int("exit_code", 0))
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		c.logger.Warn("Command exited with error", zap.Int("exit_code", exitErr.ExitCode()))
		return fmt.Errorf("command exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("failed to wait for command: %w", err)
}
