package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		c.Writer.Header().Set(RequestIDHeader, reqID)
		ctx := context.WithValue(c.Request.Context(), requestIDKey{}, reqID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", reqID)
		c.Next()
	}
}

// RequestID returns the id stored by RequestIDMiddleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
