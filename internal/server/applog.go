package server

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the server's structured logger: a rotating file
// sink via lumberjack, following the teacher's daemonLogger setup, with
// size in megabytes rather than the teacher's env-var-tuned defaults
// (graphd reads the log-max-size-mb setting from Config instead).
func NewLogger(logPath string, maxSizeMB int, level slog.Level) (*lumberjack.Logger, *slog.Logger) {
	lj := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSizeMB,
		MaxBackups: 7,
		MaxAge:     30,
		Compress:   true,
	}

	handler := slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: level})
	return lj, slog.New(handler)
}

// NewStderrLogger builds a logger that writes text-formatted records to
// stderr only, for foreground/test runs that shouldn't touch disk.
func NewStderrLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// discardLogger returns a logger that drops everything, for tests that
// need a non-nil *slog.Logger but don't care about its output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
