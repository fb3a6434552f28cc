package logger

import (
	"context"
	"sync"
)

type contextKey struct{}

var loggerKey = contextKey{}

var (
	defaultLogger   = New(nil)
	defaultLoggerMu sync.RWMutex
)

// GetDefault returns the process-wide logger.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. Nil is ignored.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext returns a new context carrying l.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// ContextWithFields returns a context whose logger carries fields.
// Parameters:
//   - ctx: base context.
//   - fields: structured fields to add.
//
// Returns:
//   - context.Context: context containing the enriched logger.
func ContextWithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// SetRequestID tags the context logger with the HTTP request id.
func SetRequestID(ctx context.Context, id string) context.Context {
	return ContextWithFields(ctx, Fields{FieldRequestID: id})
}

// SetRunID tags the context logger with the sync run id.
func SetRunID(ctx context.Context, id string) context.Context {
	return ContextWithFields(ctx, Fields{FieldRunID: id})
}

// SetEntityKind tags the context logger with the entity kind being synced.
func SetEntityKind(ctx context.Context, kind string) context.Context {
	return ContextWithFields(ctx, Fields{FieldEntityKind: kind})
}

// GetRunID returns the run id carried by the context logger, if any.
func GetRunID(ctx context.Context) string {
	id, _ := FromContext(ctx).Data[FieldRunID].(string)
	return id
}

// CtxDebug logs at Debug level with context fields.
func CtxDebug(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debugf(format, args...)
}

// CtxInfo logs at Info level with context fields.
func CtxInfo(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Infof(format, args...)
}

// CtxWarn logs at Warn level with context fields.
func CtxWarn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Warnf(format, args...)
}

// CtxError logs at Error level with context fields.
func CtxError(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Errorf(format, args...)
}
