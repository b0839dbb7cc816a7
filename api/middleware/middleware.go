package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDKey = "requestID"

// RequestID tags every request with a correlation id, echoed back in the
// response so Plane-side delivery logs can be matched to ours.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// ValidatePayload rejects requests that cannot possibly be webhook payloads
// before any body handling happens.
func ValidatePayload() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.GetHeader("Content-Type"), "application/json") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Content-Type must be application/json"})
			c.Abort()
			return
		}

		if c.Request.Body == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Empty request body"})
			c.Abort()
			return
		}

		c.Next()
	}
}
