package model

import "time"

type UsageAction string

const (
	UsageView     UsageAction = "view"
	UsageDownload UsageAction = "download"
	UsageShare    UsageAction = "share"
)

// UsageRecord is an append-only access log entry. Analytics only.
type UsageRecord struct {
	ID        uint        `gorm:"primaryKey;autoIncrement"`
	FileID    string      `gorm:"size:36;not null;index"`
	ActorID   *string     `gorm:"size:64"`
	Action    UsageAction `gorm:"size:16;not null"`
	Variant   string      `gorm:"size:32"`
	CreatedAt time.Time   `gorm:"index"`
}
