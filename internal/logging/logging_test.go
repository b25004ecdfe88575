package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message logged at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn message missing")
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "json")
	StageDone(logger, "req-1", "extracting", 1500*time.Millisecond, map[string]any{"keypoints": 42})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if rec["stage"] != "extracting" || rec["request"] != "req-1" {
		t.Errorf("unexpected record: %v", rec)
	}
	if rec["duration_ms"] != float64(1500) {
		t.Errorf("duration_ms: got %v", rec["duration_ms"])
	}
}

func TestSetup_EnvOverride(t *testing.T) {
	t.Setenv(LevelEnv, "error")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := Setup("debug", "text")
	if logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("environment level should override the configured level")
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("error level should be enabled")
	}
}

func TestStageFailedAndToolCall(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "text")

	StageFailed(logger, "req-2", "matching", time.Second, errors.New("boom"))
	ToolCall(logger, "panorama_stitch", time.Millisecond, nil)
	ToolCall(logger, "image_load", time.Millisecond, errors.New("missing file"))

	out := buf.String()
	for _, want := range []string{"stage failed", "boom", "tool completed", "tool failed", "missing file"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDiscard(t *testing.T) {
	if Discard().Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger should be disabled at every level")
	}
}
