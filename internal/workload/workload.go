// Package workload provides the tasks a service host can run: a periodic
// in-process worker and an external command.
package workload

import (
	"fmt"

	"github.com/stone-age-io/servicehost/internal/config"
	"github.com/stone-age-io/servicehost/internal/launcher"
	"go.uber.org/zap"
)

// New builds the task selected by cfg
func New(cfg config.WorkloadConfig, logger *zap.Logger) (launcher.Task, error) {
	switch cfg.Kind {
	case config.WorkloadTicker:
		return NewTicker(cfg.Interval, logger).Run, nil
	case config.WorkloadCommand:
		return NewCommand(cfg.Command, cfg.Args, cfg.Dir, cfg.Env, logger).Run, nil
	default:
		return nil, fmt.Errorf("unknown workload kind: %q", cfg.Kind)
	}
}
