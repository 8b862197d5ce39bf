// Package svcctl installs and controls the host as an OS service (Windows
// SCM, systemd, launchd, ...). Running under the manager is handled by the
// host package; this is only the management side.
package svcctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/stone-age-io/servicehost/internal/config"
)

// noopProgram satisfies service.Interface; the manager never runs it because
// "run" goes through the host package
type noopProgram struct{}

func (noopProgram) Start(service.Service) error { return nil }
func (noopProgram) Stop(service.Service) error  { return nil }

// Manager performs install/uninstall/start/stop/restart/status
type Manager struct {
	svc  service.Service
	name string
}

// New creates a manager for the service described by cfg. configPath is
// baked into the registered command line.
func New(cfg config.ServiceConfig, configPath string) (*Manager, error) {
	svcConfig, err := buildConfig(cfg, configPath)
	if err != nil {
		return nil, err
	}

	s, err := service.New(noopProgram{}, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create service definition: %w", err)
	}
	return &Manager{svc: s, name: cfg.Name}, nil
}

func buildConfig(cfg config.ServiceConfig, configPath string) (*service.Config, error) {
	args := []string{"run"}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		args = append(args, "--config", abs)
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable: %w", err)
	}

	return &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Executable:  exe,
		Arguments:   args,
	}, nil
}

// Control runs one of service.ControlAction
func (m *Manager) Control(action string) error {
	if !validAction(action) {
		return fmt.Errorf("invalid action %q (valid: %v)", action, service.ControlAction)
	}
	if err := service.Control(m.svc, action); err != nil {
		return fmt.Errorf("failed to %s service %s: %w", action, m.name, err)
	}
	return nil
}

// Status returns the service status as reported by the OS manager
func (m *Manager) Status() (string, error) {
	st, err := m.svc.Status()
	if err != nil {
		if errors.Is(err, service.ErrNotInstalled) {
			return "not installed", nil
		}
		return "", fmt.Errorf("failed to query service %s: %w", m.name, err)
	}
	return statusName(st), nil
}

// Platform names the service system in use
func (m *Manager) Platform() string {
	return m.svc.Platform()
}

func validAction(action string) bool {
	for _, a := range service.ControlAction {
		if a == action {
			return true
		}
	}
	return false
}

func statusName(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
