// Package logging configures the process logger. Call sites use log/slog; the
// records are written by zerolog so output matches across the API, the
// supervisor and the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level  string
	Format string
}

// New builds a zerolog-backed slog.Logger writing to w. Unknown levels fall back to info.
func New(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return slog.New(NewSlogHandler(zl))
}

// Setup installs the logger as slog's default and tags every record with service.
func Setup(cfg Config, service string) *slog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := New(cfg, os.Stdout).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
