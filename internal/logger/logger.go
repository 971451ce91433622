package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/boliseva-loan-ledger/internal/config"
)

// ParseLevel maps a configured level name to a slog level. Unknown names fall back to info.
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

// NewLogger creates the node logger writing JSON to stdout
func NewLogger(cfg *config.Config) *slog.Logger {
	return New(os.Stdout, cfg)
}

// New creates a JSON logger on w. Every record carries the application name and environment
// so logs of several ledger nodes can be told apart.
func New(w io.Writer, cfg *config.Config) *slog.Logger {
	level := ParseLevel(cfg.Logging.Level)

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	logger := slog.New(handler).With(
		"app", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	logger.Debug("Logger initialized", "level", level.String())
	return logger
}
