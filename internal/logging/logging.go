// Package logging wraps the standard library structured logger with a
// small interface so call sites depend on a contract rather than a
// concrete *slog.Logger, and so a correlation id travelling on the
// context is always attached.
package logging

import (
	"context"
	"log/slog"
	"os"
)

type correlationIDKey struct{}

// WithCorrelationID returns a context carrying id, picked up by every
// subsequent log call made through that context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func correlationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey{}).(string)
	return id, ok && id != ""
}

// Logger is the contract used throughout the service. All methods take a
// context so the correlation id can be threaded through automatically.
type Logger interface {
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

type slogLogger struct {
	base *slog.Logger
}

// New builds a Logger backed by slog, emitting JSON to stdout.
func New(component string) Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &slogLogger{base: slog.New(h).With("component", component)}
}

func (l *slogLogger) with(ctx context.Context, args []any) []any {
	if id, ok := correlationID(ctx); ok {
		return append([]any{"correlation_id", id}, args...)
	}
	return args
}

func (l *slogLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.base.InfoContext(ctx, msg, l.with(ctx, args)...)
}

func (l *slogLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.base.WarnContext(ctx, msg, l.with(ctx, args)...)
}

func (l *slogLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.base.ErrorContext(ctx, msg, l.with(ctx, args)...)
}
