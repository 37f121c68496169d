package logging

import (
	"context"
	"log/slog"
	"time"
)

// Standardized field names shared across components so log output stays
// searchable.
const (
	FieldComponent = "component"
	FieldItemID    = "item_id"
	FieldStatus    = "status"
	FieldRetry     = "retry_count"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
)

// String builds a string attribute.
func String(key, value string) slog.Attr { return slog.String(key, value) }

// Int builds an int attribute.
func Int(key string, value int) slog.Attr { return slog.Int(key, value) }

// Int64 builds an int64 attribute.
func Int64(key string, value int64) slog.Attr { return slog.Int64(key, value) }

// Bool builds a bool attribute.
func Bool(key string, value bool) slog.Attr { return slog.Bool(key, value) }

// Duration builds a duration attribute.
func Duration(key string, value time.Duration) slog.Attr { return slog.Duration(key, value) }

// Error builds a standardized error attribute, omitting nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Args flattens attrs for use with the slog variadic APIs.
func Args(attrs ...slog.Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Equal(slog.Attr{}) {
			continue
		}
		args = append(args, attr)
	}
	return args
}

// NewComponentLogger tags a child logger with a component name.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// NewNop returns a logger that discards everything. Useful in tests and as
// a safe fallback for optional loggers.
func NewNop() *slog.Logger {
	return slog.New(noopHandler{})
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }
