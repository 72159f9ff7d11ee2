// Package logging configures structured logging for the file storage
// service using log/slog.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bleepstore/filestorage/internal/config"
)

// ParseLevel maps a level name to a slog.Level.
// Supported levels: "debug", "info", "warn", "error" (default: "info").
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewHandler returns a text or json handler writing to w.
// Supported formats: "text", "json" (default: "text").
func NewHandler(level, format string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// Setup configures the default slog logger. When cfg.File is set the output
// is also written to a rotating log file. The returned closer flushes and
// closes that file and is always non-nil.
func Setup(cfg config.LoggingConfig, w io.Writer) io.Closer {
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.Rotation.MaxSize,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAge:     cfg.Rotation.MaxAge,
			Compress:   cfg.Rotation.Compress,
		}
		w = io.MultiWriter(w, rotator)
		closer = rotator
	}

	slog.SetDefault(slog.New(NewHandler(cfg.Level, cfg.Format, w)))
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
