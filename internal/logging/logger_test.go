package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/Old-Lx/AquaManagement/internal/config"
)

func TestNewWithWriter_ReleaseIsJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		AppEnv:         "prod",
		LogLevel:       slog.LevelInfo,
		TopicNamespace: "caracas",
		SensorSource:   config.SourceReal,
	}
	logger := NewWithWriter(&buf, cfg, "1.2.0", "aquamanagement")

	logger.Info("command applied", "pump_id", 1)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	want := map[string]any{
		"msg":           "command applied",
		"app":           "aquamanagement",
		"version":       "1.2.0",
		"env":           "prod",
		"namespace":     "caracas",
		"sensor_source": "real",
		"pump_id":       float64(1),
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %v", k, rec[k], v)
		}
	}
}

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.Config{AppEnv: "prod", LogLevel: slog.LevelWarn}, "1.2.0", "aquamanagement")

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn not logged: %q", buf.String())
	}
}

func TestNewWithWriter_DevIsText(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		AppEnv:         "dev",
		LogLevel:       slog.LevelDebug,
		TopicNamespace: "caracas",
		SensorSource:   config.SourceSimulated,
	}
	logger := NewWithWriter(&buf, cfg, "dev", "aquamanagement")

	logger.Debug("telemetry", "pump_id", 2)

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("dev output looks like JSON: %q", out)
	}
	for _, want := range []string{"telemetry", "pump_id", "namespace", "caracas", "sensor_source", "simulated"} {
		if !strings.Contains(out, want) {
			t.Errorf("dev output missing %q: %q", want, out)
		}
	}
	if strings.Contains(out, "version") {
		t.Errorf("dev output carries release attributes: %q", out)
	}
}
