package lance

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with lance-specific context.
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
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithIndex adds the index path to the logger.
func (l *Logger) WithIndex(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", path),
	}
}

// WithVersion adds a dataset version field to the logger.
func (l *Logger) WithVersion(version uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("version", version),
	}
}

// LogTrain logs a completed or failed training pass.
func (l *Logger) LogTrain(ctx context.Context, rows int64, spills int, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "train failed",
			"rows", rows,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "train completed",
			"rows", rows,
			"spills", spills,
			"duration", d,
		)
	}
}

// LogWrite logs an index publish.
func (l *Logger) LogWrite(ctx context.Context, path string, ngrams int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index write failed",
			"path", path,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "index written",
			"path", path,
			"ngrams", ngrams,
			"bytes", bytes,
		)
	}
}

// LogLoad logs an index load.
func (l *Logger) LogLoad(ctx context.Context, path string, version uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index load failed",
			"path", path,
			"version", version,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "index loaded",
			"path", path,
			"version", version,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, needle string, candidates uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"needle_len", len(needle),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"needle_len", len(needle),
			"candidates", candidates,
		)
	}
}
