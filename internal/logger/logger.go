// Package logger wraps log/slog with a JSON handler shared across every
// pipeline phase, and attaches the current phase name (dump, harvest,
// resolve, enrich, normalize, geocode, embed) to every line so a single
// combined log stream from "run" can be filtered per phase without every
// call site threading its own "phase" key/value pair by hand.
package logger

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
	currentPhase  atomic.Value // string
)

// Init initializes the default logger with a JSON handler writing to os.Stdout.
// It ensures that the logger is initialized only once.
func Init() {
	once.Do(func() {
		defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug, // Default to Debug level, can be made configurable
		}))
		slog.SetDefault(defaultLogger) // Optionally set as the default logger for the slog package
		defaultLogger.Info("Logger initialized")
	})
}

// SetPhase attaches name (e.g. "harvest", "enrich", "geocode") to every
// subsequent log line as a "phase" field, until the next SetPhase call.
// The composite "run" command calls this once per sub-phase it drives so
// a single log stream stays attributable to the phase that produced each
// line, matching the CLI's one-subcommand-per-phase surface (spec §6).
func SetPhase(name string) {
	currentPhase.Store(name)
}

// Get returns the initialized default logger.
// It calls Init() to ensure the logger is ready before returning it.
func Get() *slog.Logger {
	Init() // Ensures logger is initialized
	return defaultLogger
}

func withPhase(args []any) []any {
	phase, _ := currentPhase.Load().(string)
	if phase == "" {
		return args
	}
	return append([]any{"phase", phase}, args...)
}

// Info logs an informational message using the default logger.
func Info(msg string, args ...any) {
	Get().Info(msg, withPhase(args)...)
}

// Warn logs a warning message using the default logger.
func Warn(msg string, args ...any) {
	Get().Warn(msg, withPhase(args)...)
}

// Error logs an error message using the default logger.
func Error(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	Get().Error(msg, withPhase(args)...)
}

// Debug logs a debug message using the default logger.
func Debug(msg string, args ...any) {
	Get().Debug(msg, withPhase(args)...)
}
