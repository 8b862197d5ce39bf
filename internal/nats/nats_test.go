package nats

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stone-age-io/servicehost/internal/config"
	"github.com/stone-age-io/servicehost/internal/events"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestLifecycleSubject(t *testing.T) {
	tests := []struct {
		prefix  string
		service string
		kind    events.Kind
		want    string
	}{
		{"services", "worker", events.KindStopped, "services.worker.lifecycle.stopped"},
		{"prod.services", "api", events.KindForced, "prod.services.api.lifecycle.forced_stop"},
		{"services", "worker", events.KindStopPending, "services.worker.lifecycle.stop_pending"},
	}

	for _, tt := range tests {
		if got := LifecycleSubject(tt.prefix, tt.service, tt.kind); got != tt.want {
			t.Errorf("LifecycleSubject(%q, %q, %q) = %q, want %q", tt.prefix, tt.service, tt.kind, got, tt.want)
		}
	}
}

func TestLifecycleEmitterPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	bus := events.NewBus("worker", NewLifecycleEmitter(pub, "services", nil))

	bus.Publish(events.Event{Kind: events.KindStopRequested, Cause: stopsignal.CauseSignal})

	if len(pub.subjects) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.subjects))
	}
	if pub.subjects[0] != "services.worker.lifecycle.stop_requested" {
		t.Errorf("subject = %q", pub.subjects[0])
	}

	var got events.Event
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("payload is not an event: %v", err)
	}
	if got.Cause != stopsignal.CauseSignal {
		t.Errorf("cause = %q, want %q", got.Cause, stopsignal.CauseSignal)
	}
	if got.RunID != bus.RunID() {
		t.Errorf("run id = %q, want %q", got.RunID, bus.RunID())
	}
}

func TestLifecycleEmitterPublishFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &fakePublisher{err: errors.New("connection closed")}
	em := NewLifecycleEmitter(pub, "services", zap.New(core))

	em.Emit(events.Event{Kind: events.KindStopped, Service: "worker"})

	if logs.FilterMessage("Failed to publish lifecycle event").Len() != 1 {
		t.Error("expected publish failure to be logged")
	}
}

func TestControlSubjects(t *testing.T) {
	h := NewControlHandlers(zap.NewNop(), "services", "worker", "run-1", "1.0.0", stopsignal.New())

	if got := h.Subject("stop"); got != "services.worker.cmd.stop" {
		t.Errorf("Subject(stop) = %q", got)
	}
}

func TestControlStatusAndStop(t *testing.T) {
	stop := stopsignal.New()
	h := NewControlHandlers(zap.NewNop(), "services", "worker", "run-1", "1.0.0", stop)

	st := h.statusResponse()
	if st.Status != "running" || st.Stopping {
		t.Errorf("status before stop = %+v", st)
	}
	if st.RunID != "run-1" || st.Version != "1.0.0" {
		t.Errorf("status identity = %+v", st)
	}

	resp := h.stopResponse()
	if !resp.Accepted || resp.Cause != stopsignal.CauseRemote {
		t.Errorf("first stop = %+v, want accepted with cause remote", resp)
	}
	if !stop.Triggered() {
		t.Fatal("stop signal not triggered")
	}

	again := h.stopResponse()
	if again.Accepted {
		t.Error("second stop should not be accepted")
	}
	if again.Cause != stopsignal.CauseRemote {
		t.Errorf("second stop cause = %q, want first cause", again.Cause)
	}

	st = h.statusResponse()
	if st.Status != "stopping" || st.StopCause != stopsignal.CauseRemote {
		t.Errorf("status after stop = %+v", st)
	}
}

func TestControlStopKeepsEarlierCause(t *testing.T) {
	stop := stopsignal.New()
	stop.TriggerWithCause(stopsignal.CauseManager)

	h := NewControlHandlers(zap.NewNop(), "services", "worker", "run-1", "1.0.0", stop)
	resp := h.stopResponse()

	if resp.Accepted {
		t.Error("stop after manager stop should not be accepted")
	}
	if resp.Cause != stopsignal.CauseManager {
		t.Errorf("cause = %q, want %q", resp.Cause, stopsignal.CauseManager)
	}
}

func TestConnectOptions(t *testing.T) {
	tests := []struct {
		name    string
		auth    config.AuthConfig
		wantErr bool
		errText string
	}{
		{name: "none", auth: config.AuthConfig{Type: "none"}},
		{name: "token", auth: config.AuthConfig{Type: "token", Token: "t"}},
		{name: "userpass", auth: config.AuthConfig{Type: "userpass", Username: "u", Password: "p"}},
		{name: "invalid", auth: config.AuthConfig{Type: "pocketbase"}, wantErr: true, errText: "invalid auth type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.NATSConfig{
				URLs:          []string{"nats://localhost:4222"},
				ReconnectWait: time.Second,
				Auth:          tt.auth,
			}
			opts, err := connectOptions(cfg, "test", zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("connectOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errText) {
					t.Errorf("connectOptions() error = %v, want %q", err, tt.errText)
				}
				return
			}
			if len(opts) == 0 {
				t.Error("expected connection options")
			}
		})
	}
}

func TestCreateTLSConfigBadCA(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, []byte("not a certificate"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := createTLSConfig(&config.TLSConfig{Enabled: true, CAFile: caFile}, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "failed to parse CA certificate") {
		t.Errorf("createTLSConfig() error = %v, want CA parse failure", err)
	}
}

func TestCreateTLSConfigMinVersion(t *testing.T) {
	tlsConfig, err := createTLSConfig(&config.TLSConfig{Enabled: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("createTLSConfig() error = %v", err)
	}
	if tlsConfig.MinVersion == 0 {
		t.Error("expected a minimum TLS version")
	}
}
