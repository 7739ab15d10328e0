// Package moderation holds the handlers of the moderation trail
package moderation

import (
	"net/http"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"

	"github.com/gin-gonic/gin"
)

// Trail returns every moderation record of a file, oldest first
func Trail(c *gin.Context, d *internal.Deps) {
	f, ok := access.Managed(c, d)
	if !ok {
		return
	}

	records, err := d.Workflow.Trail(c.Request.Context(), f.ID)
	if err != nil {
		respond.Failure(c, "Failed to load moderation trail", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"moderation_status": f.ModerationStatus,
		"records":           records,
	})
}
