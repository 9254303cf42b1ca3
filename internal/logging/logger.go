// ABOUTME: Structured, context-aware logging interface used across feedradar
// ABOUTME: Adds a fault level for invariant violations on top of debug/info/warn/error

package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are key-value pairs:
//
//	log.Info(ctx, "fetched feed", "source", source, "items", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// Fault logs a condition that should be impossible under the data model,
	// such as a remote record deletion without its zone. Nothing recovers
	// from a fault automatically.
	Fault(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
