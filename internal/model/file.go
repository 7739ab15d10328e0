// Package model defines database models
package model

import "time"

type MediaClass string

const (
	ClassImage    MediaClass = "image"
	ClassVideo    MediaClass = "video"
	ClassAudio    MediaClass = "audio"
	ClassDocument MediaClass = "document"
	ClassARModel  MediaClass = "ar_model"
	ClassArchive  MediaClass = "archive"
)

type Privacy string

const (
	PrivacyPublic    Privacy = "public"
	PrivacyFollowers Privacy = "followers"
	PrivacyPrivate   Privacy = "private"
)

type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

type ModerationStatus string

const (
	ModerationPending     ModerationStatus = "pending"
	ModerationApproved    ModerationStatus = "approved"
	ModerationRejected    ModerationStatus = "rejected"
	ModerationFlagged     ModerationStatus = "flagged"
	ModerationUnderReview ModerationStatus = "under_review"
)

// MediaFile is the aggregate root of the pipeline. Rows are never hard
// deleted, archiving sets Archived and purges storage.
type MediaFile struct {
	ID               string `gorm:"primaryKey;size:36" json:"id"`
	Filename         string `gorm:"uniqueIndex;size:64;not null" json:"filename"` // Generated, avoids storage key conflicts
	OriginalFilename string `gorm:"size:255" json:"original_filename"`
	Title            string `gorm:"size:255" json:"title"`
	Description      string `json:"description"`
	Size             int64  `gorm:"index" json:"size"`
	DeclaredMIME     string `gorm:"size:127" json:"declared_mime,omitempty"`
	MIMEType         string `gorm:"size:127" json:"mime_type"`

	MediaClass MediaClass `gorm:"size:16;index" json:"media_class"`
	Category   string     `gorm:"size:32;index:idx_owner_category,priority:2" json:"category"`

	ContentHash string `gorm:"size:64;index" json:"content_hash"`
	StoragePath string `json:"-"`
	CDNURL      string `json:"cdn_url"`

	Privacy          Privacy          `gorm:"size:16;default:public" json:"privacy"`
	ProcessingStatus ProcessingStatus `gorm:"size:16;index;default:pending" json:"processing_status"`
	ModerationStatus ModerationStatus `gorm:"size:16;index;default:pending" json:"moderation_status"`

	OwnerID string    `gorm:"size:64;not null;index:idx_owner_category,priority:1" json:"owner_id"`
	Related EntityRef `gorm:"embedded;embeddedPrefix:related_" json:"related,omitzero"`

	Metadata JSONMap `json:"metadata"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	Version  int     `gorm:"default:1" json:"version"`
	ParentID *string `gorm:"size:36;index" json:"parent_id,omitempty"`

	Archived   bool       `gorm:"index;default:false" json:"archived"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Variants []ProcessedVariant `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE" json:"variants,omitempty"`
}

// PubliclyVisible reports whether the file may be listed or served to
// anyone other than its owner
func (f *MediaFile) PubliclyVisible() bool {
	return !f.Archived &&
		f.Privacy == PrivacyPublic &&
		f.ModerationStatus == ModerationApproved &&
		f.ProcessingStatus != ProcessingFailed
}

// VisibleTo reports whether viewerID may read the file. Privileged viewers
// see every file that is not archived.
func (f *MediaFile) VisibleTo(viewerID string, privileged bool) bool {
	if f.Archived {
		return false
	}

	if privileged || (viewerID != "" && f.OwnerID == viewerID) {
		return true
	}

	return f.PubliclyVisible()
}

// ContentFingerprint is the unique claim on a content hash inside a dedup
// scope. Inserting it is the only check-then-insert in the ingress path.
type ContentFingerprint struct {
	ScopeKey    string    `gorm:"primaryKey;size:64"`
	ContentHash string    `gorm:"primaryKey;size:64"`
	FileID      string    `gorm:"size:36;not null;index"`
	CreatedAt   time.Time
}
