package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"legalmind/internal/infra/config"
)

const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the log. Provider
// configs and HTTP headers are sometimes logged whole during startup.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"secret":        true,
	"password":      true,
	"token":         true,
}

// New creates the process logger tagged with the service name. The closer
// flushes and closes a file output.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	w, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return slog.New(newHandler(w, cfg)).With("service", "legalmind"), closer, nil
}

func newHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// openOutput resolves "stdout", "stderr" (the default) or a file path.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
