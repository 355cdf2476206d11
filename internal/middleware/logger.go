package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

const loggerKey = "logger"

// LoggerMiddleware stores a request-scoped logger and writes one access log
// line per request. It must run after RequestIDMiddleware.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := logger.With("request_id", RequestID(c.Request.Context()))
		c.Set(loggerKey, reqLogger)

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		reqLogger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// Logger returns the logger set by LoggerMiddleware, falling back to the
// default logger.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
