package file

import (
	"net/http"

	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/ingest"
	"bitwise74/media-api/pkg/middleware"
	"bitwise74/media-api/pkg/util"
	"bitwise74/media-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func FileUpload(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)
	userID := c.MustGet("userID").(string)

	fh, err := c.FormFile("file")
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			respond.Failure(c, "", err)
			return
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "No file provided",
			"requestID": requestID,
		})
		return
	}

	var form validators.UploadForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     "Invalid form fields",
			"requestID": requestID,
		})
		return
	}

	f, err := fh.Open()
	if err != nil {
		respond.Internal(c, "Failed to open multipart file", err)
		return
	}
	defer f.Close()

	// Long uploads are abandoned on shutdown instead of holding it up
	ctx, cancel := util.MergeContexts(c.Request.Context(), d.Ctx)
	defer cancel()

	res, err := d.Ingest.Upload(ctx, ingest.Upload{
		OwnerID:      userID,
		Filename:     fh.Filename,
		DeclaredMIME: fh.Header.Get("Content-Type"),
		Body:         f,
		Form:         form,
	})
	if err != nil {
		respond.Failure(c, "Failed to ingest upload", err)
		return
	}

	if res.Duplicate {
		zap.L().Debug("Upload matched an existing file",
			zap.String("requestID", requestID),
			zap.String("file_id", res.File.ID))

		c.JSON(http.StatusOK, gin.H{
			"file":      res.File,
			"duplicate": true,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"file":      res.File,
		"duplicate": false,
	})
}
