package moderation

import (
	"net/http"
	"slices"
	"strings"

	"bitwise74/media-api/app/respond"
	"bitwise74/media-api/internal"
	"bitwise74/media-api/internal/model"
	mod "bitwise74/media-api/internal/moderation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var manualTargets = []model.ModerationStatus{
	model.ModerationApproved,
	model.ModerationRejected,
	model.ModerationFlagged,
	model.ModerationUnderReview,
}

type decisionBody struct {
	Decision    model.ModerationStatus `json:"decision" binding:"required"`
	Reason      string                 `json:"reason" binding:"max=2000"`
	Violations  []string               `json:"violations"`
	ActionTaken string                 `json:"action_taken" binding:"max=64"`
}

// Decide records a moderator decision. Only reachable with the moderator
// role.
func Decide(c *gin.Context, d *internal.Deps) {
	userID := c.MustGet("userID").(string)

	var body decisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond.Error(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if !slices.Contains(manualTargets, body.Decision) {
		respond.Error(c, http.StatusBadRequest, "decision must be one of approved, rejected, flagged or under_review")
		return
	}

	rec, err := d.Workflow.Transition(c.Request.Context(), mod.Decision{
		FileID:      c.Param("id"),
		Type:        model.ModerationManual,
		ActorID:     &userID,
		To:          body.Decision,
		Confidence:  1,
		Violations:  body.Violations,
		ActionTaken: strings.TrimSpace(body.ActionTaken),
		Reason:      strings.TrimSpace(body.Reason),
	})
	if err != nil {
		respond.Failure(c, "Failed to record moderation decision", err)
		return
	}

	zap.L().Info("Moderation decision",
		zap.String("file_id", rec.FileID),
		zap.String("moderator", userID),
		zap.String("decision", string(rec.Decision)))

	c.JSON(http.StatusCreated, rec)
}
