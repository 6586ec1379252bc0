package bootstrap

import (
	"log/slog"
	"os"

	"github.com/MrWong99/glyphoxa/internal/config"
)

// NewLogger builds the process-wide slog handler, following the teacher's
// cmd/glyphoxa/main.go newLogger helper. LogFormat selects "json" or
// defaults to the teacher's plain text handler.
func NewLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case config.LogDebug:
		level = slog.LevelDebug
	case config.LogWarn:
		level = slog.LevelWarn
	case config.LogError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
