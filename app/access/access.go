// Package access loads the file named in the route and checks that the
// caller may see or manage it
package access

import (
	"net/http"

	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Viewer returns the caller set by the jwt middlewares. Anonymous callers
// have an empty id.
func Viewer(c *gin.Context) (userID string, privileged bool) {
	return c.GetString("userID"), c.GetString("role") == middleware.RoleModerator
}

func load(c *gin.Context, d *internal.Deps) (*model.MediaFile, bool) {
	fileID := c.Param("id")
	if fileID == "" {
		respond.Error(c, http.StatusBadRequest, "No file ID provided")
		return nil, false
	}

	f, err := d.Search.Get(c.Request.Context(), fileID)
	if err != nil {
		respond.Failure(c, "Failed to load file", err)
		return nil, false
	}

	return f, true
}

// Visible loads the file when the caller may read it. Files the caller
// can't see are answered with 404 so their existence is not leaked.
func Visible(c *gin.Context, d *internal.Deps) (*model.MediaFile, bool) {
	f, ok := load(c, d)
	if !ok {
		return nil, false
	}

	if !f.VisibleTo(Viewer(c)) {
		respond.NotFound(c)
		return nil, false
	}

	return f, true
}

// Managed loads the file when the caller owns it or is a moderator
func Managed(c *gin.Context, d *internal.Deps) (*model.MediaFile, bool) {
	f, ok := Visible(c, d)
	if !ok {
		return nil, false
	}

	userID, privileged := Viewer(c)
	if !privileged && f.OwnerID != userID {
		respond.Error(c, http.StatusForbidden, "You don't own this file")
		return nil, false
	}

	return f, true
}

// Owned loads the file when the caller owns it
func Owned(c *gin.Context, d *internal.Deps) (*model.MediaFile, bool) {
	f, ok := Visible(c, d)
	if !ok {
		return nil, false
	}

	if userID, _ := Viewer(c); f.OwnerID != userID {
		respond.Error(c, http.StatusForbidden, "You don't own this file")
		return nil, false
	}

	return f, true
}
