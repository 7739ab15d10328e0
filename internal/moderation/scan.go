package moderation

import (
	"context"

	"bitwise74/media-api/config"
	"bitwise74/media-api/internal/model"
)

const (
	ViolationMalware  = "malware"
	ViolationNSFW     = "nsfw"
	ViolationViolence = "violence"
)

// Policy turns classifier verdicts into automated decisions
type Policy struct {
	RejectFloor   float64
	FlagThreshold float64
	AutoApprove   bool
}

func PolicyFrom(cfg config.ModerationConfig) Policy {
	return Policy{
		RejectFloor:   cfg.RejectFloor,
		FlagThreshold: cfg.FlagThreshold,
		AutoApprove:   cfg.AutoApprove,
	}
}

// Decide maps content scores to a status. Scores at or over the flag
// threshold name their violation.
func (p Policy) Decide(v *Verdict) (model.ModerationStatus, float64, []string) {
	var violations []string
	if v.NSFWScore >= p.FlagThreshold {
		violations = append(violations, ViolationNSFW)
	}
	if v.ViolenceScore >= p.FlagThreshold {
		violations = append(violations, ViolationViolence)
	}

	score := v.MaxScore()

	switch {
	case score >= p.RejectFloor:
		return model.ModerationRejected, score, violations
	case score >= p.FlagThreshold:
		return model.ModerationFlagged, score, violations
	case p.AutoApprove:
		return model.ModerationApproved, 1 - score, nil
	}

	return model.ModerationUnderReview, 1 - score, nil
}

// ApplyVirusScan rejects infected files. Clean files are left pending for
// the content scan. Only pending files are touched.
func (w *Workflow) ApplyVirusScan(ctx context.Context, fileID string, v *Verdict) (*model.ModerationRecord, error) {
	if v.IsClean {
		return nil, nil
	}

	return w.Transition(ctx, Decision{
		FileID:        fileID,
		Type:          model.ModerationAutomated,
		To:            model.ModerationRejected,
		Confidence:    1,
		Violations:    []string{ViolationMalware},
		ActionTaken:   "quarantined",
		Reason:        "virus scan failed",
		OnlyIfPending: true,
	})
}

// ApplyModerationScan records the automated content decision for a pending
// file
func (w *Workflow) ApplyModerationScan(ctx context.Context, fileID string, v *Verdict, p Policy) (*model.ModerationRecord, error) {
	status, confidence, violations := p.Decide(v)

	reason := "content scan"
	if !v.IsClean {
		status, confidence, violations = model.ModerationRejected, 1, []string{ViolationMalware}
		reason = "content scan reported malware"
	}

	return w.Transition(ctx, Decision{
		FileID:        fileID,
		Type:          model.ModerationAutomated,
		To:            status,
		Confidence:    confidence,
		Violations:    violations,
		Reason:        reason,
		OnlyIfPending: true,
	})
}
