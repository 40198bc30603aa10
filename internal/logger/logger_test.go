package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "console"},
		{"info level", "info", "console"},
		{"warn level", "warn", "console"},
		{"error level", "error", "console"},
		{"json format", "info", "json"},
		{"uppercase level", "DEBUG", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level, tt.format)
			if Log == nil {
				t.Error("expected Log to be initialized")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level, "console")
			if got := zerolog.GlobalLevel(); got != tt.expect {
				t.Errorf("level %s: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(line), &out); err != nil {
		t.Fatalf("invalid json log line %q: %v", line, err)
	}
	return out
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("info", "json", &buf)
	defer Setup("info", "console")

	Log.Info("composed batch",
		"size", 8,
		"split", "train",
		"error", errors.New("boom"),
		"orphan_key",
	)

	got := decodeLine(t, &buf)
	if got["message"] != "composed batch" {
		t.Errorf("unexpected message %v", got["message"])
	}
	if got["size"] != float64(8) {
		t.Errorf("expected size 8, got %v", got["size"])
	}
	if got["split"] != "train" {
		t.Errorf("expected split train, got %v", got["split"])
	}
	if got["error"] != "boom" {
		t.Errorf("expected error boom, got %v", got["error"])
	}
	if _, ok := got["orphan_key"]; ok {
		t.Error("orphan key without value should be dropped")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("debug", "json", &buf)
	defer Setup("info", "console")

	Log.With("component", "pipeline", 7, "seven").Debug("hello")

	got := decodeLine(t, &buf)
	if got["component"] != "pipeline" {
		t.Errorf("expected component field, got %v", got)
	}
	if got["7"] != "seven" {
		t.Errorf("expected non-string key to be formatted, got %v", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("error", "json", &buf)
	defer Setup("info", "console")

	Log.Info("filtered")
	Log.Warn("filtered")
	if buf.Len() != 0 {
		t.Errorf("expected no output below error level, got %q", buf.String())
	}
	Log.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected error line, got %q", buf.String())
	}
}
