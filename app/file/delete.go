package file

import (
	"net/http"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FileDelete archives a file. The row is kept, stored objects are removed.
func FileDelete(c *gin.Context, d *internal.Deps) {
	f, ok := access.Managed(c, d)
	if !ok {
		return
	}

	if err := d.Ingest.Archive(c.Request.Context(), f.ID); err != nil {
		respond.Failure(c, "Failed to archive file", err)
		return
	}

	userID, _ := access.Viewer(c)
	zap.L().Info("File deleted", zap.String("file_id", f.ID), zap.String("by", userID))

	c.Status(http.StatusNoContent)
}
