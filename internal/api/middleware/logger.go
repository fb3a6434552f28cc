package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/rostersync/internal/logger"
)

const (
	headerRequestID = "X-Request-ID"
	loggerKey       = "logger"
)

// LoggerMiddleware returns a Gin middleware that injects a request-scoped logger.
// An incoming X-Request-ID is reused; otherwise a new one is generated.
// Parameters:
//   - log: base logger to enrich with request fields.
//
// Returns:
//   - gin.HandlerFunc: middleware handler.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetDefault()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader(headerRequestID)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}

		ctx := log.WithFields(logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		}).WithContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Set(loggerKey, logger.FromContext(ctx))
		c.Header(headerRequestID, requestID)

		logger.CtxDebug(ctx, "Request started: method=%s, path=%s, client_ip=%s",
			c.Request.Method, path, c.ClientIP())

		c.Next()

		if query := c.Request.URL.RawQuery; query != "" {
			path += "?" + query
		}
		entry := logger.With(logger.Fields{
			logger.FieldStatus:     c.Writer.Status(),
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldSize:       c.Writer.Size(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error(ctx, "Request failed: method=%s, path=%s", c.Request.Method, path)
			return
		}
		entry.Info(ctx, "Request completed: method=%s, path=%s", c.Request.Method, path)
	}
}

// GetLogger extracts logger from Gin context or request context.
// Parameters:
//   - c: Gin request context.
//
// Returns:
//   - *logger.Logger: request-scoped logger or default logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get(loggerKey); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
