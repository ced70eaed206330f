package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Generation fields. Callers pass the string form so this package stays free
// of domain imports.

func JobID(id string) Attr { return slog.String(FieldJobID, id) }

func Kind(kind string) Attr { return slog.String(FieldKind, kind) }

func Provider(name string) Attr { return slog.String(FieldProvider, name) }

func Status(status string) Attr { return slog.String(FieldStatus, status) }

func ErrorKind(kind string) Attr { return slog.String(FieldErrorKind, kind) }

func EventType(value string) Attr { return slog.String(FieldEventType, value) }

// Alert marks a line operators should notice, e.g. "deadline".
func Alert(value string) Attr { return slog.String(FieldAlert, value) }

// Hint carries the next step an operator should take.
func Hint(value string) Attr { return slog.String(FieldErrorHint, value) }

// Impact describes what the user loses because of a warning.
func Impact(value string) Attr { return slog.String(FieldImpact, value) }

func args(attrs []Attr) []any {
	out := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, attr)
	}
	return out
}

func NewNop() *slog.Logger {
	return slog.New(discardHandler{})
}

// NewComponentLogger tags logger with a component. A nil logger discards.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact; missing ones get generic defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	if logger == nil {
		return
	}
	defaults := []Attr{
		EventType(eventType),
		Hint("check logs for details"),
		Impact("operation completed with warnings"),
	}
	for _, def := range defaults {
		if !hasKey(attrs, def.Key) {
			attrs = append(attrs, def)
		}
	}
	logger.Warn(msg, args(attrs)...)
}

func hasKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }

func (discardHandler) Handle(context.Context, slog.Record) error { return nil }

func (discardHandler) WithAttrs([]slog.Attr) slog.Handler { return discardHandler{} }

func (discardHandler) WithGroup(string) slog.Handler { return discardHandler{} }
