package model

import "time"

type Tag struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type TagAssociation struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	FileID        string    `gorm:"size:36;not null;uniqueIndex:idx_file_tag,priority:1" json:"file_id"`
	TagID         uint      `gorm:"not null;uniqueIndex:idx_file_tag,priority:2;index" json:"tag_id"`
	Confidence    float64   `json:"confidence"`
	AutoGenerated bool      `json:"auto_generated"`
	CreatedAt     time.Time `json:"created_at"`

	Tag Tag `gorm:"foreignKey:TagID" json:"tag"`
}
