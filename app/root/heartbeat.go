package root

import (
	"context"
	"net/http"
	"time"

	"bitwise74/media-api/internal"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Heartbeat answers 200 while the database and redis respond
func Heartbeat(c *gin.Context, d *internal.Deps) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := d.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		zap.L().Warn("Heartbeat: database unreachable", zap.Error(err))
		c.Status(http.StatusServiceUnavailable)
		return
	}

	if err := d.Redis.Ping(ctx).Err(); err != nil {
		zap.L().Warn("Heartbeat: redis unreachable", zap.Error(err))
		c.Status(http.StatusServiceUnavailable)
		return
	}

	c.Status(http.StatusOK)
}
