package nats

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/servicehost/internal/stopsignal"
	"go.uber.org/zap"
)

// ControlHandlers answers remote control requests for one hosted service
type ControlHandlers struct {
	logger  *zap.Logger
	prefix  string
	service string
	runID   string
	version string
	stop    *stopsignal.Signal
	started time.Time
}

// NewControlHandlers creates the handlers; stop is the run's shared signal
func NewControlHandlers(logger *zap.Logger, prefix, service, runID, version string, stop *stopsignal.Signal) *ControlHandlers {
	return &ControlHandlers{
		logger:  logger,
		prefix:  prefix,
		service: service,
		runID:   runID,
		version: version,
		stop:    stop,
		started: time.Now(),
	}
}

// handleWithRecovery wraps a handler with panic recovery so a bad request
// cannot take the host down
func (h *ControlHandlers) handleWithRecovery(name string, handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Panic recovered in control handler",
					zap.String("handler", name),
					zap.String("subject", msg.Subject),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
				h.respond(msg, errorResponse{
					Status:    "error",
					Error:     fmt.Sprintf("Internal error: handler panicked: %v", r),
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
			}
		}()

		handler(msg)
	}
}

// Subject returns the control subject for cmd
func (h *ControlHandlers) Subject(cmd string) string {
	return fmt.Sprintf("%s.%s.cmd.%s", h.prefix, h.service, cmd)
}

// SubscribeAll subscribes to ping, status and stop
func (h *ControlHandlers) SubscribeAll(client *Client) error {
	handlers := []struct {
		cmd     string
		handler nats.MsgHandler
	}{
		{"ping", h.handlePing},
		{"status", h.handleStatus},
		{"stop", h.handleStop},
	}

	for _, hd := range handlers {
		if _, err := client.Subscribe(h.Subject(hd.cmd), h.handleWithRecovery(hd.cmd, hd.handler)); err != nil {
			return err
		}
	}
	return nil
}

type pingResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type statusResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	RunID         string `json:"run_id"`
	Version       string `json:"version"`
	Stopping      bool   `json:"stopping"`
	StopCause     string `json:"stop_cause,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

type stopRequest struct {
	Reason string `json:"reason"`
}

type stopResponse struct {
	Status    string `json:"status"`
	Accepted  bool   `json:"accepted"`
	Cause     string `json:"cause"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func (h *ControlHandlers) handlePing(msg *nats.Msg) {
	h.logger.Debug("Received ping command")
	h.respond(msg, h.pingResponse())
}

func (h *ControlHandlers) handleStatus(msg *nats.Msg) {
	h.logger.Debug("Received status command")
	h.respond(msg, h.statusResponse())
}

func (h *ControlHandlers) handleStop(msg *nats.Msg) {
	var req stopRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			h.logger.Warn("Failed to parse stop request", zap.Error(err))
			h.respond(msg, errorResponse{
				Status:    "error",
				Error:     "Invalid request format",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
	}

	h.logger.Info("Remote stop requested", zap.String("reason", req.Reason))
	h.respond(msg, h.stopResponse())
}

func (h *ControlHandlers) pingResponse() pingResponse {
	return pingResponse{
		Status:    "pong",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (h *ControlHandlers) statusResponse() statusResponse {
	status := "running"
	if h.stop.Triggered() {
		status = "stopping"
	}
	return statusResponse{
		Status:        status,
		Service:       h.service,
		RunID:         h.runID,
		Version:       h.version,
		Stopping:      h.stop.Triggered(),
		StopCause:     h.stop.Cause(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// stopResponse triggers the stop; a second request reports the cause that
// actually won
func (h *ControlHandlers) stopResponse() stopResponse {
	accepted := h.stop.TriggerWithCause(stopsignal.CauseRemote)
	return stopResponse{
		Status:    "stopping",
		Accepted:  accepted,
		Cause:     h.stop.Cause(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func (h *ControlHandlers) respond(msg *nats.Msg, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		h.logger.Debug("Failed to send response",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}
