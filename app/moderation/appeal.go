package moderation

import (
	"net/http"
	"strings"

	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/model"
	mod "bitwise74/media-api/internal/moderation"

	"github.com/gin-gonic/gin"
)

type appealBody struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// Appeal sends a decided file of the caller back to review
func Appeal(c *gin.Context, d *internal.Deps) {
	userID := c.MustGet("userID").(string)

	fileID := c.Param("id")
	f, err := d.Search.Get(c.Request.Context(), fileID)
	if err != nil {
		respond.Failure(c, "Failed to load file", err)
		return
	}

	// Rejected files are hidden from everybody but their owner can still
	// appeal them
	if f.Archived || f.OwnerID != userID {
		respond.NotFound(c)
		return
	}

	var body appealBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Reason) == "" {
		respond.Error(c, http.StatusBadRequest, "A reason is required")
		return
	}

	rec, err := d.Workflow.Transition(c.Request.Context(), mod.Decision{
		FileID:  f.ID,
		Type:    model.ModerationAppeal,
		ActorID: &userID,
		To:      model.ModerationUnderReview,
		Reason:  strings.TrimSpace(body.Reason),
	})
	if err != nil {
		respond.Failure(c, "Failed to record appeal", err)
		return
	}

	c.JSON(http.StatusCreated, rec)
}

