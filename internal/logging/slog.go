// ABOUTME: slog-backed Logger with a charmbracelet/log terminal handler
// ABOUTME: NewNop discards everything and is what tests use

package logging

import (
	"context"
	"io"
	"log/slog"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// FaultKey marks records logged through Fault.
const FaultKey = "fault"

// SlogLogger implements Logger on top of *slog.Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps an existing slog logger.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	return &SlogLogger{l: l}
}

// New returns a logger that writes human-readable lines to w. Debug output is
// only emitted when verbose is set.
func New(w io.Writer, verbose bool) *SlogLogger {
	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		Prefix:          "feedradar",
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})
	return NewSlogLogger(slog.New(handler))
}

// NewNop returns a logger that discards all output.
func NewNop() *SlogLogger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	s.l.DebugContext(ctx, msg, args...)
}

func (s *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	s.l.InfoContext(ctx, msg, args...)
}

func (s *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	s.l.WarnContext(ctx, msg, args...)
}

func (s *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, args...)
}

func (s *SlogLogger) Fault(ctx context.Context, msg string, args ...any) {
	s.l.ErrorContext(ctx, msg, append([]any{FaultKey, true}, args...)...)
}

func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{l: s.l.With(args...)}
}
