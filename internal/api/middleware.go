package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Herobone/stream-scorer/internal/errors"
)

const (
	// HeaderUserID carries the caller identity resolved by the authenticating gateway.
	HeaderUserID    = "X-User-ID"
	HeaderRequestID = "X-Request-ID"

	keyCaller    = "caller"
	keyRequestID = "request_id"
)

// RequireCaller rejects requests that carry no authenticated user.
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader(HeaderUserID)
		if uid == "" {
			abort(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("no user session")))
			return
		}

		c.Set(keyCaller, uid)
		c.Next()
	}
}

// Caller returns the user set by RequireCaller.
func Caller(c *gin.Context) string {
	return c.GetString(keyCaller)
}

// RequestLog assigns a request id and logs every request once it completes.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(keyRequestID, id)
		c.Header(HeaderRequestID, id)

		start := time.Now()
		c.Next()

		attrs := []any{
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.Last().Err)
		}

		slog.InfoContext(c.Request.Context(), "http: request handled", attrs...)
	}
}
