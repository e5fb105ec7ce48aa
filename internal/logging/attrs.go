package logging

import (
	"log/slog"
	"slices"
)

type Attr = slog.Attr

const (
	// FieldComponent names the subsystem emitting a line.
	FieldComponent = "component"
	// FieldSource carries the caller-supplied filename hint.
	FieldSource = "source"
	// FieldRunID groups the lines of one batch run.
	FieldRunID = "run_id"
	// FieldEventType is a stable machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to try next.
	FieldErrorHint = "error_hint"
	// FieldImpact states the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// Helpers for the attribute kinds log lines here carry. Metadata values never
// go through them; only names, sizes, and counts do.
func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Error records err under the "error" key.
func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

// Args converts attributes into the variadic form slog.Logger methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with a component name. A nil logger yields a
// discarding one.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// warnDefaults fill in the operator-facing fields a warning must carry.
var warnDefaults = []Attr{
	String(FieldErrorHint, "run with --verbose and check the log file"),
	String(FieldImpact, "file was not stripped"),
}

// WarnWithContext logs a warning tagged with eventType. Missing error_hint
// and impact fields get defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	attrs = withDefault(attrs, String(FieldEventType, eventType))
	for _, def := range warnDefaults {
		attrs = withDefault(attrs, def)
	}
	logger.Warn(msg, Args(attrs...)...)
}

func withDefault(attrs []Attr, def Attr) []Attr {
	if slices.ContainsFunc(attrs, func(a Attr) bool { return a.Key == def.Key }) {
		return attrs
	}
	return append(attrs, def)
}
