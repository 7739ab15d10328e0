package file

import (
	"net/http"
	"strconv"

	"bitwise74/media-api/app/access"
	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/similarity"

	"github.com/gin-gonic/gin"
)

func visibleMatches(c *gin.Context, in []similarity.Match) []similarity.Match {
	out := make([]similarity.Match, 0, len(in))
	for _, m := range in {
		if m.File.VisibleTo(access.Viewer(c)) {
			out = append(out, m)
		}
	}

	return out
}

// FileSimilar returns near duplicates of a file, best match first
func FileSimilar(c *gin.Context, d *internal.Deps) {
	f, ok := access.Visible(c, d)
	if !ok {
		return
	}

	threshold := d.Config.Similarity.Threshold
	if s := c.Query("threshold"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 || v > 1 {
			respond.Error(c, http.StatusBadRequest, "Invalid threshold provided")
			return
		}
		threshold = v
	}

	matches, err := d.Similarity.NearDuplicates(c.Request.Context(), f.ID, threshold)
	if err != nil {
		respond.Failure(c, "Failed to find similar files", err)
		return
	}

	c.JSON(http.StatusOK, visibleMatches(c, matches))
}

// FileDuplicates returns exact content duplicates and the owner's files
// with a near identical name
func FileDuplicates(c *gin.Context, d *internal.Deps) {
	f, ok := access.Managed(c, d)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	exact, err := d.Similarity.ExactDuplicates(ctx, f.ID)
	if err != nil {
		respond.Failure(c, "Failed to find exact duplicates", err)
		return
	}

	visible := make([]model.MediaFile, 0, len(exact))
	for _, e := range exact {
		if e.VisibleTo(access.Viewer(c)) {
			visible = append(visible, e)
		}
	}

	byName, err := d.Similarity.FilenameDuplicates(ctx, f.ID)
	if err != nil {
		respond.Failure(c, "Failed to find filename duplicates", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exact":    visible,
		"filename": visibleMatches(c, byName),
	})
}
