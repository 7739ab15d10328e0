package file

import (
	"net/http"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FileVariants lists renditions. Owners and moderators also see pending
// and failed ones.
func FileVariants(c *gin.Context, d *internal.Deps) {
	f, ok := access.Visible(c, d)
	if !ok {
		return
	}

	userID, privileged := access.Viewer(c)
	if !privileged && f.OwnerID != userID {
		c.JSON(http.StatusOK, f.Variants)
		return
	}

	variants := []model.ProcessedVariant{}
	err := d.DB.WithContext(c.Request.Context()).
		Where("file_id = ?", f.ID).
		Order("variant_type ASC").
		Find(&variants).
		Error
	if err != nil {
		respond.Internal(c, "Failed to load variants", err)
		return
	}

	c.JSON(http.StatusOK, variants)
}

// FileRegenerate renders every variant again
func FileRegenerate(c *gin.Context, d *internal.Deps) {
	f, ok := access.Managed(c, d)
	if !ok {
		return
	}

	if err := d.Orchestrator.Enqueue(c.Request.Context(), f.ID, model.JobVariants, true); err != nil {
		respond.Failure(c, "Failed to enqueue variant regeneration", err)
		return
	}

	zap.L().Info("Variant regeneration requested",
		zap.String("requestID", c.GetString("requestID")),
		zap.String("file_id", f.ID))

	c.JSON(http.StatusAccepted, gin.H{
		"file_id": f.ID,
		"job":     model.JobVariants,
	})
}
