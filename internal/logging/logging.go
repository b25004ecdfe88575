// Package logging configures the structured logger shared by the server,
// the CLI and the stitch pipeline.
//
// Logs always go to stderr: stdout carries the MCP JSON-RPC stream.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LevelEnv is the environment variable that overrides the configured level.
const LevelEnv = "PANORAMA_MCP_LOG_LEVEL"

// New returns a slog.Logger writing to w at the given level (debug, info,
// warn, error). format may be "json" or "text".
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup builds the process logger on stderr and installs it as the slog
// default. A non-empty PANORAMA_MCP_LOG_LEVEL takes precedence over level.
func Setup(level, format string) *slog.Logger {
	if env := os.Getenv(LevelEnv); env != "" {
		level = env
	}
	logger := New(os.Stderr, level, format)
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps a level name to a slog.Level. Unknown names give info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StageStart logs entry into a pipeline stage.
func StageStart(logger *slog.Logger, requestID, stage string, details map[string]any) {
	logger.Debug("stage started",
		"request", requestID,
		"stage", stage,
		"details", details,
	)
}

// StageDone logs successful completion of a pipeline stage.
func StageDone(logger *slog.Logger, requestID, stage string, duration time.Duration, details map[string]any) {
	logger.Info("stage completed",
		"request", requestID,
		"stage", stage,
		"duration_ms", duration.Milliseconds(),
		"details", details,
	)
}

// StageFailed logs the failure that ended a request.
func StageFailed(logger *slog.Logger, requestID, stage string, duration time.Duration, err error) {
	logger.Warn("stage failed",
		"request", requestID,
		"stage", stage,
		"duration_ms", duration.Milliseconds(),
		"error", err.Error(),
	)
}

// ToolCall logs one MCP tool invocation.
func ToolCall(logger *slog.Logger, tool string, duration time.Duration, err error) {
	if err != nil {
		logger.Warn("tool failed",
			"tool", tool,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	logger.Debug("tool completed",
		"tool", tool,
		"duration_ms", duration.Milliseconds(),
	)
}
