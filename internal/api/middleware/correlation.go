package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// CorrelationIDHeader carries the request trace id in both directions
	CorrelationIDHeader = "X-Correlation-ID"

	// CorrelationIDKey is the gin context key of the trace id
	CorrelationIDKey = "correlation_id"
)

// CorrelationID reuses the caller's trace id or assigns a new one
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		c.Header(CorrelationIDHeader, id)
		c.Set(CorrelationIDKey, id)
		c.Next()
	}
}

// GetCorrelationID returns the trace id of the request, or "" outside the middleware
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(CorrelationIDKey)
}
