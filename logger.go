package dirgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/dirgo/access"
)

// Logger wraps slog.Logger with dirgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithIdentity adds the acting identity to the logger.
func (l *Logger) WithIdentity(ident access.Identity) *Logger {
	return &Logger{
		Logger: l.Logger.With("identity", ident.String()),
	}
}

// WithOp adds an operation name to the logger.
func (l *Logger) WithOp(op string) *Logger {
	return &Logger{
		Logger: l.Logger.With("op", op),
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, ident access.Identity, returned int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"identity", ident.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"identity", ident.String(),
			"returned", returned,
		)
	}
}

// LogCreate logs a create operation.
func (l *Logger) LogCreate(ctx context.Context, ident access.Identity, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create failed",
			"identity", ident.String(),
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "create completed",
			"identity", ident.String(),
			"count", count,
		)
	}
}

// LogModify logs a modify operation.
func (l *Logger) LogModify(ctx context.Context, ident access.Identity, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "modify failed",
			"identity", ident.String(),
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "modify completed",
			"identity", ident.String(),
			"count", count,
		)
	}
}

// LogDelete logs a delete (recycle) operation.
func (l *Logger) LogDelete(ctx context.Context, ident access.Identity, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"identity", ident.String(),
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"identity", ident.String(),
			"count", count,
		)
	}
}

// LogRevive logs a revive operation.
func (l *Logger) LogRevive(ctx context.Context, ident access.Identity, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "revive failed",
			"identity", ident.String(),
			"count", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "revive completed",
			"identity", ident.String(),
			"count", count,
		)
	}
}

// LogPurge logs a recycle-bin or tombstone purge.
func (l *Logger) LogPurge(ctx context.Context, kind string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "purge failed",
			"kind", kind,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "purge completed",
			"kind", kind,
			"count", count,
		)
	}
}

// LogBackup logs a backup operation.
func (l *Logger) LogBackup(ctx context.Context, name string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed",
			"archive", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "backup completed",
			"archive", name,
			"entries", count,
		)
	}
}

// LogRestore logs a restore operation.
func (l *Logger) LogRestore(ctx context.Context, name string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"archive", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"archive", name,
			"entries", count,
		)
	}
}

// LogInitialize logs the bootstrap migration.
func (l *Logger) LogInitialize(ctx context.Context, created, updated int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "initialize failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "initialize completed",
			"created", created,
			"updated", updated,
		)
	}
}
