package file

import (
	"net/http"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"

	"github.com/gin-gonic/gin"
)

func FileJobs(c *gin.Context, d *internal.Deps) {
	f, ok := access.Managed(c, d)
	if !ok {
		return
	}

	jobs, err := d.Orchestrator.Jobs(c.Request.Context(), f.ID)
	if err != nil {
		respond.Internal(c, "Failed to load jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processing_status": f.ProcessingStatus,
		"jobs":              jobs,
	})
}
