package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupJSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("warn", "json", &buf)

	logger.Info("dropped")
	logger.Warn("kept", "bucket", "b1x")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "kept" || record["bucket"] != "b1x" {
		t.Errorf("record = %v", record)
	}
}

func TestSetupDebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("debug", "json", &buf)

	logger.Debug("trace me")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := record["source"]; !ok {
		t.Errorf("debug record missing source: %v", record)
	}
}

func TestSetupTextDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("info", "", &buf)

	logger.Info("hello", "key", "value")
	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "key=value") {
		t.Errorf("text output = %q", out)
	}
}
