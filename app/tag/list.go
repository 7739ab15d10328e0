// Package tag serves the tag vocabulary
package tag

import (
	"net/http"
	"strconv"

	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"

	"github.com/gin-gonic/gin"
)

// TagList returns the most used tags of publicly visible files
func TagList(c *gin.Context, d *internal.Deps) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		respond.Error(c, http.StatusBadRequest, "Invalid limit provided")
		return
	}

	tags, err := d.Search.Tags(c.Request.Context(), limit)
	if err != nil {
		respond.Internal(c, "Failed to list tags", err)
		return
	}

	c.JSON(http.StatusOK, tags)
}
