// Package logging wraps log/slog with the severities the auth flows
// emit: info for successes, warn for validation failures, and alert for
// authentication and registration rejections.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// LevelAlert sits above slog.LevelError so rejected credentials stand
// out from ordinary errors in log pipelines.
const LevelAlert = slog.Level(12)

type Logger struct {
	l *slog.Logger
}

func New(l *slog.Logger) *Logger {
	return &Logger{l: l}
}

// Default returns a text logger on stderr that renders LevelAlert as "ALERT".
func Default() *Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		ReplaceAttr: ReplaceLevelNames,
	})
	return New(slog.New(h))
}

// ReplaceLevelNames renames custom levels for handler output.
func ReplaceLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelAlert {
			a.Value = slog.StringValue("ALERT")
		}
	}
	return a
}

func (s *Logger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, args...)
}

func (s *Logger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, args...)
}

func (s *Logger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, args...)
}

func (s *Logger) Alert(ctx context.Context, msg string, args ...any) {
	s.l.Log(ctx, LevelAlert, msg, args...)
}

func (s *Logger) With(args ...any) *Logger {
	return &Logger{l: s.l.With(args...)}
}
