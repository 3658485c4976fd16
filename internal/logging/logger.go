package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedKeys lists attribute keys whose values never reach the log output.
var redactedKeys = map[string]struct{}{
	"secret":         {},
	"token":          {},
	"github_token":   {},
	"student_secret": {},
	"api_key":        {},
	"openai_api_key": {},
	"authorization":  {},
}

// NewLogger creates a new slog.Logger based on the given level and format.
// Supported levels: debug, info, warn, error.
// Supported formats: text, json.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the given writer.
// Credential-like attributes are replaced with "[REDACTED]".
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used as a default when
// callers pass no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok && a.Value.String() != "" {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
