package logger

import (
	"context"
	"maps"
	"time"
)

// Entry carries aggregatable metric fields (duration_ms, count, size)
// and logs them through the logger found in the call's context.
type Entry struct {
	fields Fields
}

// With creates an Entry with the given metric fields.
// Example: logger.With(logger.Fields{logger.FieldCount: n}).Info(ctx, "Page reconciled")
func With(fields Fields) *Entry {
	return &Entry{fields: fields}
}

// With returns a copy of e with fields merged in.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	maps.Copy(merged, e.fields)
	maps.Copy(merged, fields)
	return &Entry{fields: merged}
}

// Since adds the elapsed time since start as duration_ms.
func (e *Entry) Since(start time.Time) *Entry {
	return e.With(Fields{FieldDurationMs: time.Since(start).Milliseconds()})
}

func (e *Entry) logger(ctx context.Context) *Logger {
	return FromContext(ctx).WithFields(e.fields)
}

// Debug logs at Debug level with metric fields.
func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Debugf(format, args...)
}

// Info logs at Info level with metric fields.
func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Infof(format, args...)
}

// Warn logs at Warn level with metric fields.
func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Warnf(format, args...)
}

// Error logs at Error level with metric fields.
func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.logger(ctx).Errorf(format, args...)
}
