package agent

import (
	"fmt"

	"github.com/stone-age-io/servicehost/internal/config"
	"github.com/stone-age-io/servicehost/internal/events"
	"github.com/stone-age-io/servicehost/internal/host"
	"github.com/stone-age-io/servicehost/internal/launcher"
	"github.com/stone-age-io/servicehost/internal/logging"
	"github.com/stone-age-io/servicehost/internal/metrics"
	natsclient "github.com/stone-age-io/servicehost/internal/nats"
	"github.com/stone-age-io/servicehost/internal/signals"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"github.com/stone-age-io/servicehost/internal/workload"
	"go.uber.org/zap"
)

// Options are command line settings that are not part of the config file
type Options struct {
	// Debug drives the service-manager protocol from the console (Windows)
	Debug bool
}

// Agent wires one run of the service host: config, logging, lifecycle
// event sinks, the workload, the launcher and the platform host
type Agent struct {
	config   *config.Config
	logger   *zap.Logger
	bus      *events.Bus
	nats     *natsclient.Client
	recorder *metrics.Recorder
	signals  *signals.Listener
	launcher *launcher.Launcher
	host     host.Host
	version  string
}

// New creates a new agent instance
func New(configPath string, version string, opts Options) (*Agent, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	isService, err := host.IsService()
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging, !isService || opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = logger.With(zap.String("service", cfg.Service.Name))

	// Subscribe before anything slow so an early SIGTERM is not fatal
	listener, err := signals.New(logger)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to create signal listener: %w", err)
	}

	bus := events.NewBus(cfg.Service.Name, events.NewLogEmitter(logger))
	logger.Info("Starting service host",
		zap.String("version", version),
		zap.String("run_id", bus.RunID()),
		zap.String("workload", cfg.Workload.Kind),
		zap.Duration("grace_period", cfg.Runtime.GracePeriod))

	a := &Agent{
		config:  cfg,
		logger:  logger,
		bus:     bus,
		signals: listener,
		version: version,
	}

	if cfg.Metrics.Enabled {
		a.recorder = metrics.NewRecorder(cfg.Metrics.TextfileDirectory, cfg.Service.Name, logger)
		bus.Attach(a.recorder)
		logger.Info("Metrics textfile enabled", zap.String("path", a.recorder.Path()))
	}

	stop := stopsignal.New()

	if cfg.NATS.Enabled {
		if err := a.connectNATS(stop); err != nil {
			a.Shutdown()
			return nil, err
		}
	}

	task, err := workload.New(cfg.Workload, logger.Named("workload"))
	if err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("failed to create workload: %w", err)
	}

	a.launcher = launcher.New(task, stop, launcher.Options{
		GracePeriod:  cfg.Runtime.GracePeriod,
		WaitInterval: cfg.Runtime.WaitInterval,
		Watcher:      listener,
		Logger:       logger,
		Events:       bus,
	})

	a.host, err = host.New(host.Options{
		ServiceName:        cfg.Service.Name,
		StartWaitHint:      cfg.Runtime.StartWaitHint,
		StopWaitHint:       cfg.Runtime.StopWaitHint,
		CheckpointInterval: cfg.Runtime.CheckpointInterval,
		Debug:              opts.Debug,
		Logger:             logger,
		Events:             bus,
		Probe:              metrics.ProcessStats,
	})
	if err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("failed to create host: %w", err)
	}

	return a, nil
}

func (a *Agent) connectNATS(stop *stopsignal.Signal) error {
	cfg := &a.config.NATS

	client, err := natsclient.NewClient(cfg, a.config.Service.Name, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.nats = client
	a.bus.Attach(natsclient.NewLifecycleEmitter(client, cfg.SubjectPrefix, a.logger))

	if cfg.RemoteControl {
		handlers := natsclient.NewControlHandlers(a.logger, cfg.SubjectPrefix, a.config.Service.Name,
			a.bus.RunID(), a.version, stop)
		if err := handlers.SubscribeAll(client); err != nil {
			client.Close()
			a.nats = nil
			return fmt.Errorf("failed to subscribe to control subjects: %w", err)
		}
	}
	return nil
}

// Run blocks until the hosted workload has stopped. The error is non-nil
// only when the host could not start the run at all.
func (a *Agent) Run() (launcher.Outcome, error) {
	a.logger.Info("Service host running", zap.String("host", a.host.Name()))

	out, err := a.host.Run(a.launcher)
	if err != nil {
		a.logger.Error("Service host failed", zap.Error(err))
	} else {
		a.logger.Info("Service host finished",
			zap.String("outcome", out.Kind.String()),
			zap.String("cause", out.Cause),
			zap.Duration("elapsed", out.Elapsed),
			zap.Int("exit_code", out.ExitCode()))
	}

	a.Shutdown()
	return out, err
}

// Shutdown releases the event sinks and, last, the signal subscription
func (a *Agent) Shutdown() {
	a.closeNATS()
	a.signals.Close()
	a.logger.Sync()
}

func (a *Agent) closeNATS() {
	if a.nats == nil {
		return
	}
	if err := a.nats.Drain(a.config.NATS.DrainTimeout); err != nil {
		a.logger.Warn("Error draining NATS", zap.Error(err))
	}
	a.nats = nil
}
