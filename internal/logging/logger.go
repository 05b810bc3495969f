// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ferrovax/chatrelay/internal/config"
)

// Setup configures the global slog logger. Returns the tail buffer (if
// tail_size > 0) and the lumberjack logger (if file logging is enabled)
// so the caller can serve recent logs and close the file on shutdown.
// Pass the previous tail on reconfiguration to keep it attached.
func Setup(cfg config.LoggingConfig, tail *Tail) (*Tail, *lumberjack.Logger) {
	var w io.Writer = os.Stdout
	var lj *lumberjack.Logger

	if cfg.File != "" {
		lj = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = lj
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	if tail == nil && cfg.TailSize > 0 {
		tail = NewTail(cfg.TailSize)
	}
	if tail != nil {
		handler = &tailHandler{inner: handler, tail: tail}
	}

	slog.SetDefault(slog.New(handler))
	return tail, lj
}

func parseLevel(level string) slog.Level {
	switch level {
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
