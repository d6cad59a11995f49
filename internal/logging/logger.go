// Package logging wraps slog.Logger with the field names the pipeline uses.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with cellmatch-specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to w. format is "text" or "json"; anything
// else falls back to text. verbose lowers the level to debug.
func New(w io.Writer, format string, verbose bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Noop returns a Logger that discards everything.
func Noop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

// OrNoop returns l, or a no-op logger when l is nil.
func OrNoop(l *Logger) *Logger {
	if l == nil {
		return Noop()
	}
	return l
}

// WithSpecimen tags every record with the specimen name.
func (l *Logger) WithSpecimen(name string) *Logger {
	return &Logger{Logger: l.Logger.With("specimen", name)}
}

// WithStage tags every record with the pipeline stage.
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{Logger: l.Logger.With("stage", stage)}
}

// LogStage logs completion or failure of one pipeline stage.
func (l *Logger) LogStage(ctx context.Context, stage string, started time.Time, err error, attrs ...any) {
	args := append([]any{"stage", stage, "elapsed", time.Since(started).Round(time.Millisecond)}, attrs...)
	if err != nil {
		l.ErrorContext(ctx, "stage failed", append(args, "error", err)...)
		return
	}
	l.InfoContext(ctx, "stage completed", args...)
}

// LogMatch logs the outcome of one correspondence run.
func (l *Logger) LogMatch(ctx context.Context, strategy string, rows, withinGate int) {
	l.InfoContext(ctx, "matching completed",
		"strategy", strategy,
		"rows", rows,
		"within_gate", withinGate,
	)
}

// LogBatch logs the outcome of a batch run.
func (l *Logger) LogBatch(ctx context.Context, total, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch completed with failures",
			"total", total,
			"failed", failed,
			"success", total-failed,
		)
		return
	}
	l.InfoContext(ctx, "batch completed", "total", total)
}
