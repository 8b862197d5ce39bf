package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stone-age-io/servicehost/internal/config"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")

	logger, err := New(config.LoggingConfig{
		Level:      "info",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	}, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Debug("hidden")
	logger.Info("Service started")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line at info level, got %d: %q", len(lines), data)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "Service started" {
		t.Errorf("msg = %v, want Service started", entry["msg"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp key in log entry")
	}
	if _, ok := entry["caller"]; !ok {
		t.Error("expected caller key in log entry")
	}
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", File: filepath.Join(t.TempDir(), "x.log")}, true)
	if err == nil {
		t.Fatal("New() expected error for invalid level")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("New() error = %v, want invalid log level", err)
	}
}
