// Package logging configures the process-wide structured logger and
// attaches per-request correlation IDs to a context. The demo command
// calls Init; the correlation-ID helpers have no caller in this module.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

// Init configures the process-wide slog default logger from a level
// string ("debug"|"info"|"warn"|"error"), writing structured JSON to
// stdout.
func Init(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// WithCorrelationID returns a context carrying a correlation id, generating
// a fresh one when id is empty.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID extracts the correlation id from ctx, returning "" if none
// was attached.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// FromContext returns a logger enriched with the context's correlation id,
// falling back to the default logger when none is present.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if id := CorrelationID(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}
	return logger
}
