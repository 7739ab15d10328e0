package file

import (
	"net/http"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/ingest"

	"github.com/gin-gonic/gin"
)

func FileEdit(c *gin.Context, d *internal.Deps) {
	f, ok := access.Owned(c, d)
	if !ok {
		return
	}

	var patch ingest.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respond.Error(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	updated, err := d.Ingest.Update(c.Request.Context(), f.ID, patch)
	if err != nil {
		respond.Failure(c, "Failed to update file", err)
		return
	}

	c.JSON(http.StatusOK, updated)
}
