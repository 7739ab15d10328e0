package file

import (
	"net/http"
	"slices"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var validActions = []model.UsageAction{model.UsageView, model.UsageDownload, model.UsageShare}

// FileServe redirects to the original or a variant. Public files go to the
// CDN, everything else to a short lived signed URL.
func FileServe(c *gin.Context, d *internal.Deps) {
	f, ok := access.Visible(c, d)
	if !ok {
		return
	}

	action := model.UsageAction(c.DefaultQuery("action", string(model.UsageView)))
	if !slices.Contains(validActions, action) {
		respond.Error(c, http.StatusBadRequest, "Invalid action provided")
		return
	}

	variantType := c.Query("variant")
	key, cdnURL := f.StoragePath, f.CDNURL

	if variantType != "" && variantType != "original" {
		i := slices.IndexFunc(f.Variants, func(v model.ProcessedVariant) bool {
			return v.VariantType == variantType
		})
		if i < 0 {
			respond.Error(c, http.StatusNotFound, "Variant not found")
			return
		}

		key, cdnURL = f.Variants[i].StoragePath, f.Variants[i].CDNURL
	}

	target := cdnURL
	if f.Privacy != model.PrivacyPublic || target == "" {
		u, err := d.Gateway.SignedURL(c.Request.Context(), key, d.Config.Storage.SignedURLTTL)
		if err != nil {
			respond.Internal(c, "Failed to sign url", err)
			return
		}
		target = u
	}

	var actor *string
	if userID, _ := access.Viewer(c); userID != "" {
		actor = &userID
	}

	if err := d.Ingest.RecordUsage(c.Request.Context(), f.ID, actor, action, variantType); err != nil {
		zap.L().Warn("Failed to record usage", zap.String("file_id", f.ID), zap.Error(err))
	}

	c.Redirect(http.StatusFound, target)
}
