package model

import "time"

type JobType string

const (
	JobMetadata       JobType = "metadata"
	JobVirusScan      JobType = "virus_scan"
	JobModerationScan JobType = "moderation_scan"
	JobVariants       JobType = "variants"
	JobTagging        JobType = "tagging"
)

// RequiredJobs must all complete before a file is reported as processed
var RequiredJobs = []JobType{JobMetadata, JobVirusScan, JobModerationScan, JobVariants}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job tracks one asynchronous stage of a file. Keyed by (file, type) so a
// redelivered task finds the row it already worked on.
type Job struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	FileID      string     `gorm:"size:36;not null;uniqueIndex:idx_file_job,priority:1" json:"file_id"`
	Type        JobType    `gorm:"size:32;not null;uniqueIndex:idx_file_job,priority:2" json:"type"`
	Status      JobStatus  `gorm:"size:16;not null;index;default:pending" json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error,omitempty"`
	Params      JSONMap    `json:"params"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `gorm:"index" json:"updated_at"`
}
