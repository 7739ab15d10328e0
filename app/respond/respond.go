// Package respond writes the JSON error bodies shared by every handler
package respond

import (
	"context"
	"errors"
	"net/http"

	"bitwise74/media-api/internal/ingest"
	"bitwise74/media-api/internal/moderation"
	"bitwise74/media-api/internal/search"
	"bitwise74/media-api/pkg/middleware"
	"bitwise74/media-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func Error(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":     msg,
		"requestID": c.GetString("requestID"),
	})
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "File not found")
}

// Internal hides err from the client and logs it with logMsg
func Internal(c *gin.Context, logMsg string, err error) {
	Error(c, http.StatusInternalServerError, "Internal server error")

	zap.L().Error(logMsg,
		zap.String("requestID", c.GetString("requestID")),
		zap.String("path", c.FullPath()),
		zap.Error(err))
}

// Failure maps errors returned by the pipeline to a status code. Anything
// unknown is an internal error logged with logMsg.
func Failure(c *gin.Context, logMsg string, err error) {
	var ve *validators.ValidationError

	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(ve.Status(), gin.H{
			"error":     ve.Message,
			"reason":    ve.Reason,
			"requestID": c.GetString("requestID"),
		})
	case middleware.IsBodyTooLarge(err):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":     "Request body size exceeds limit",
			"reason":    "too_large",
			"requestID": c.GetString("requestID"),
		})
	case errors.Is(err, ingest.ErrFileNotFound),
		errors.Is(err, search.ErrFileNotFound),
		errors.Is(err, moderation.ErrFileNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c)
	case errors.Is(err, ingest.ErrParentNotFound):
		Error(c, http.StatusNotFound, "Parent file not found")
	case errors.Is(err, moderation.ErrInvalidTransition):
		Error(c, http.StatusConflict, "Moderation status can't change that way")
	case errors.Is(err, context.Canceled):
		// Client went away
		c.Abort()
	default:
		Internal(c, logMsg, err)
	}
}
