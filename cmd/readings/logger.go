package main

import (
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/jamesprial/readings/internal/config"
)

// configureLogger builds the process logger from cfg. An unknown level falls
// back to info; format is "json" (default) or "text".
func configureLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		log.Printf("Invalid log level: %s. Defaulting to info.\n", cfg.Level)
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
