package engine

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvLogLevel selects the log level of the commands: debug, info, warn or error.
const EnvLogLevel = "PDM_LOG_LEVEL"

// ParseLevel parses a level name. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// NewLogger returns a text logger writing to w at the level named by EnvLogLevel.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(os.Getenv(EnvLogLevel))}))
}
