package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/c360/streamreplay/config"
)

func logLevel(cfg *config.Config) slog.Level {
	switch {
	case cfg.Log.Quiet:
		return slog.LevelWarn
	case cfg.Log.Verbose:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := logLevel(cfg)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.JSONLogs() {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}
