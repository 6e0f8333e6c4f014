package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// Middleware tags every request with a request id, makes the tagged logger
// available to handlers (FromGin and From on the request context) and writes
// one summary line per request once the handler chain is done.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		c.Set(ginLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		status := c.Writer.Status()
		reqLogger.Log(c.Request.Context(), summaryLevel(status, len(c.Errors) > 0), "request", summaryAttrs(c, status, time.Since(start))...)
	}
}

// summaryLevel keeps client mistakes at warn so 5xx and handler errors stand out.
func summaryLevel(status int, failed bool) slog.Level {
	switch {
	case failed || status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func summaryAttrs(c *gin.Context, status int, dur time.Duration) []any {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	attrs := []any{
		"method", c.Request.Method,
		"path", path,
		"status", status,
		"duration_ms", float64(dur.Milliseconds()),
	}
	// device_id and role are set by auth.RequireAccessToken
	if id := c.GetString("device_id"); id != "" {
		attrs = append(attrs, "device_id", id, "role", c.GetString("role"))
	}
	if id := c.Param("session_id"); id != "" {
		attrs = append(attrs, "call_id", id)
	}
	if len(c.Errors) > 0 {
		attrs = append(attrs, "errors", c.Errors.String())
	}
	return attrs
}

// FromGin returns the request-scoped logger, or slog.Default outside Middleware.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
