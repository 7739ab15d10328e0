package model

import "time"

type ModerationType string

const (
	ModerationAutomated ModerationType = "automated"
	ModerationManual    ModerationType = "manual"
	ModerationAppeal    ModerationType = "appeal"
)

// ModerationRecord is one immutable entry of a file's moderation trail.
// The file's current status mirrors the latest record.
type ModerationRecord struct {
	ID               uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID           string           `gorm:"size:36;not null;index" json:"file_id"`
	Type             ModerationType   `gorm:"size:16;not null" json:"type"`
	ActorID          *string          `gorm:"size:64" json:"actor_id,omitempty"`
	FromStatus       ModerationStatus `gorm:"size:16" json:"from_status"`
	Decision         ModerationStatus `gorm:"size:16;not null" json:"decision"`
	Confidence       float64          `json:"confidence"`
	PolicyViolations StringSlice      `json:"policy_violations"`
	ActionTaken      string           `gorm:"size:64" json:"action_taken"`
	Reason           string           `json:"reason,omitempty"`
	DecidedAt        time.Time        `gorm:"not null;index" json:"decided_at"`
}
