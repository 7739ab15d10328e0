package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func BodySizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Fast reject for legit requests
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":     "Request body size exceeds limit",
				"reason":    "too_large",
				"requestID": c.GetString("requestID"),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// IsBodyTooLarge reports whether err was produced by the reader installed
// by BodySizeLimiter
func IsBodyTooLarge(err error) bool {
	if err == nil {
		return false
	}

	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}

	// multipart wraps the reader error as text in some code paths
	return strings.Contains(err.Error(), "http: request body too large")
}
