package file

import (
	"net/http"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/similarity"

	"github.com/gin-gonic/gin"
)

// FileFetch returns a file with its completed variants and tags
func FileFetch(c *gin.Context, d *internal.Deps) {
	f, ok := access.Visible(c, d)
	if !ok {
		return
	}

	tags, err := similarity.TagsOf(c.Request.Context(), d.DB, f.ID)
	if err != nil {
		respond.Internal(c, "Failed to load file tags", err)
		return
	}

	names := tags[f.ID]
	if names == nil {
		names = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"file": f,
		"tags": names,
	})
}
