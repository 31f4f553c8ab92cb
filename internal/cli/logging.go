package cli

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/drok-bot/drok/internal/config"
)

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, out io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func setupLogging(cfg config.LogConfig) {
	slog.SetDefault(newLogger(cfg, os.Stderr))
}
