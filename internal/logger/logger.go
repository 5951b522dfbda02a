package logger

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the process-wide structured logger. It is usable before Init is
// called so packages can log from tests.
var Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init configures Logger. Debug level is enabled by the debug flag or by
// DEBUG=true in the environment.
func Init(debug bool) {
	InitWriter(os.Stdout, debug || os.Getenv("DEBUG") == "true")
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	Logger = slog.New(slog.NewTextHandler(w, opts))
	slog.SetDefault(Logger)
}

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}
