// Package obslog provides the context-carried structured logger used
// throughout the TDK core. It follows the same WithLogger/LoggerFromContext
// shape as the mediator's ambient logging, plus a package-scoped Logger
// helper for components that are not handed a request context.
package obslog

import (
	"context"
	"log/slog"
	"os"
)

type contextKey string

const loggerKey contextKey = "tdkContextLogger"

// WithLogger attaches a structured logger to ctx, writing to logFilePath
// when set, falling back to stdout otherwise.
func WithLogger(ctx context.Context, logFilePath string) context.Context {
	return context.WithValue(ctx, loggerKey, slog.New(slog.NewJSONHandler(output(logFilePath), nil)))
}

// FromContext returns the logger attached to ctx, or a default stdout
// JSON logger when none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	return logger
}

// Logger returns a package-scoped logger, mirroring the
// `var logger = logging.Logger("component")` idiom used across the core.
func Logger(component string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", component)
}

func output(logFilePath string) *os.File {
	if logFilePath == "" {
		return os.Stdout
	}

	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("failed to open log file, defaulting to stdout", "error", err, "path", logFilePath)

		return os.Stdout
	}

	return file
}
