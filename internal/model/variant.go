package model

import "time"

type VariantStatus string

const (
	VariantPending   VariantStatus = "pending"
	VariantCompleted VariantStatus = "completed"
	VariantFailed    VariantStatus = "failed"
)

// ProcessedVariant is a derived rendition owned by exactly one MediaFile.
// There is at most one row per (file, variant type).
type ProcessedVariant struct {
	ID          uint          `gorm:"primaryKey;autoIncrement" json:"-"`
	FileID      string        `gorm:"size:36;not null;uniqueIndex:idx_file_variant,priority:1" json:"file_id"`
	VariantType string        `gorm:"size:32;not null;uniqueIndex:idx_file_variant,priority:2" json:"variant_type"`
	Filename    string        `json:"filename"`
	Size        int64         `json:"size"`
	MIMEType    string        `gorm:"size:127" json:"mime_type"`
	StoragePath string        `json:"-"`
	CDNURL      string        `json:"cdn_url"`
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	Duration    float64       `json:"duration,omitempty"`
	Params      JSONMap       `json:"params"`
	Status      VariantStatus `gorm:"size:16;default:pending" json:"status"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
