// Package logging assembles structured slog loggers and attribute helpers
// used across kloak.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and provides a no-op logger for tests and wiring code that
// cannot fail. Log lines carry kinds, sizes, and counts; callers never log
// metadata values read from media.
package logging
