// Package metrics turns lifecycle events into Prometheus metrics and exports
// them as a textfile for node_exporter / windows_exporter to pick up.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/stone-age-io/servicehost/internal/events"
	"go.uber.org/zap"
)

const namespace = "servicehost"

// Recorder is an events.Emitter that keeps lifecycle metrics in a private
// registry and rewrites the textfile when a run stops.
type Recorder struct {
	logger   *zap.Logger
	path     string
	registry *prometheus.Registry

	stops            *prometheus.CounterVec
	lastStopDuration prometheus.Gauge
	statusReports    *prometheus.CounterVec
	reportFailures   prometheus.Counter
	checkpoints      prometheus.Counter
	taskFailures     prometheus.Counter
	residentMemory   prometheus.Gauge
	threads          prometheus.Gauge

	mu sync.Mutex
}

// NewRecorder creates a recorder writing to <dir>/<service>.prom. An empty
// dir disables the textfile; metrics are still recorded.
func NewRecorder(dir, service string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}

	constLabels := prometheus.Labels{"service": service}
	r := &Recorder{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		stops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "stops_total",
				Help:        "Terminal run outcomes by kind and stop cause",
				ConstLabels: constLabels,
			},
			[]string{"kind", "trigger"},
		),
		lastStopDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_stop_duration_seconds",
			Help:        "Time from stop observed to task exit or abort in the last run",
			ConstLabels: constLabels,
		}),
		statusReports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "status_reports_total",
				Help:        "Status reports sent to the service manager by state",
				ConstLabels: constLabels,
			},
			[]string{"state"},
		),
		reportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "status_report_failures_total",
			Help:        "Status reports the service manager rejected",
			ConstLabels: constLabels,
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stop_checkpoints_total",
			Help:        "STOP_PENDING checkpoints reported while stopping",
			ConstLabels: constLabels,
		}),
		taskFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "task_failures_total",
			Help:        "Runs whose task returned an error or panicked",
			ConstLabels: constLabels,
		}),
		residentMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "resident_memory_megabytes",
			Help:        "Resident set size of the host process at stop",
			ConstLabels: constLabels,
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "threads",
			Help:        "OS threads of the host process at stop",
			ConstLabels: constLabels,
		}),
	}

	if dir != "" {
		r.path = filepath.Join(dir, service+".prom")
	}

	r.registry.MustRegister(
		r.stops,
		r.lastStopDuration,
		r.statusReports,
		r.reportFailures,
		r.checkpoints,
		r.taskFailures,
		r.residentMemory,
		r.threads,
	)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Path returns the textfile path, empty when disabled
func (r *Recorder) Path() string {
	return r.path
}

// Emit implements events.Emitter
func (r *Recorder) Emit(e events.Event) {
	switch e.Kind {
	case events.KindStatusReport, events.KindStopPending:
		r.statusReports.WithLabelValues(e.State).Inc()
		if e.Kind == events.KindStopPending {
			r.checkpoints.Inc()
		}
		if e.Error != "" {
			r.reportFailures.Inc()
		}

	case events.KindTaskFailed:
		r.taskFailures.Inc()

	case events.KindCompleted:
		r.stops.WithLabelValues(e.Outcome, e.Cause).Inc()

	case events.KindGraceful, events.KindForced:
		r.stops.WithLabelValues(e.Outcome, e.Cause).Inc()
		r.lastStopDuration.Set(float64(e.ElapsedMS) / 1000)

	case events.KindStopped:
		if e.RSSMB > 0 {
			r.residentMemory.Set(e.RSSMB)
		}
		if e.Threads > 0 {
			r.threads.Set(float64(e.Threads))
		}
		if err := r.WriteTextfile(); err != nil {
			r.logger.Warn("Failed to write metrics textfile",
				zap.String("path", r.path),
				zap.Error(err))
		}
	}
}

// WriteTextfile writes the registry in text exposition format. The file is
// written next to the target and renamed so collectors never see a partial
// file.
func (r *Recorder) WriteTextfile() error {
	if r.path == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create textfile directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := encode(tmp, families); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod textfile: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace textfile: %w", err)
	}

	r.logger.Debug("Wrote metrics textfile",
		zap.String("path", r.path),
		zap.Int("families", len(families)))
	return nil
}

func encode(w io.Writer, families []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// ReadTextfile parses a textfile written by WriteTextfile into metric
// families keyed by name
func ReadTextfile(path string) (map[string]*dto.MetricFamily, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := expfmt.NewDecoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	families := make(map[string]*dto.MetricFamily)
	for {
		mf := &dto.MetricFamily{}
		err := decoder.Decode(mf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode metric family: %w", err)
		}
		families[mf.GetName()] = mf
	}
	return families, nil
}
