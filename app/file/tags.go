package file

import (
	"net/http"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"

	"github.com/gin-gonic/gin"
)

type tagsBody struct {
	Tags []string `json:"tags" binding:"required,min=1,max=50"`
}

// FileTagsAdd attaches manual tags. Names outside the allowed length are
// skipped, the response lists the ones kept.
func FileTagsAdd(c *gin.Context, d *internal.Deps) {
	f, ok := access.Managed(c, d)
	if !ok {
		return
	}

	var body tagsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Error(c, http.StatusBadRequest, "Provide between 1 and 50 tags")
		return
	}

	added, err := d.Tagger.AddManual(c.Request.Context(), f.ID, body.Tags)
	if err != nil {
		respond.Internal(c, "Failed to add tags", err)
		return
	}

	if len(added) == 0 {
		respond.Error(c, http.StatusBadRequest, "No valid tags provided")
		return
	}

	c.JSON(http.StatusOK, gin.H{"tags": added})
}
