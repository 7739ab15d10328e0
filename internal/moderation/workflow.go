// Package moderation tracks the moderation state of files. Every change of
// state appends an immutable record, the file row mirrors the latest one.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitwise74/media-api/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidTransition = errors.New("invalid moderation transition")
	ErrFileNotFound      = errors.New("file not found")

	// errNotPending aborts automated decisions on files already decided
	errNotPending = errors.New("file is no longer pending")
)

var transitions = map[model.ModerationStatus][]model.ModerationStatus{
	model.ModerationPending: {
		model.ModerationApproved,
		model.ModerationRejected,
		model.ModerationFlagged,
		model.ModerationUnderReview,
	},
	model.ModerationUnderReview: {
		model.ModerationApproved,
		model.ModerationRejected,
		model.ModerationFlagged,
	},
}

// Appeals reopen a decided file
var appealTargets = []model.ModerationStatus{
	model.ModerationApproved,
	model.ModerationRejected,
	model.ModerationFlagged,
	model.ModerationUnderReview,
}

func IsTerminal(s model.ModerationStatus) bool {
	return s == model.ModerationApproved || s == model.ModerationRejected || s == model.ModerationFlagged
}

// CanTransition reports whether a record of type typ may move a file from
// one status to another
func CanTransition(from, to model.ModerationStatus, typ model.ModerationType) bool {
	if from == to {
		return false
	}

	if IsTerminal(from) {
		return typ == model.ModerationAppeal && contains(appealTargets, to)
	}

	if typ == model.ModerationAppeal {
		return false
	}

	return contains(transitions[from], to)
}

func contains(list []model.ModerationStatus, s model.ModerationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Decision is a request to move a file to a new status
type Decision struct {
	FileID      string
	Type        model.ModerationType
	ActorID     *string
	To          model.ModerationStatus
	Confidence  float64
	Violations  []string
	ActionTaken string
	Reason      string

	// OnlyIfPending turns the decision into a no-op when the file has
	// already left pending. Used by the scan jobs so redeliveries are safe.
	OnlyIfPending bool
}

type Workflow struct {
	db *gorm.DB

	// OnChange is called after a committed transition
	OnChange func(fileID string)
}

func NewWorkflow(db *gorm.DB) *Workflow {
	return &Workflow{db: db}
}

// Transition validates d against the state graph, appends the record and
// updates the file in one transaction. A nil record with a nil error means
// an OnlyIfPending decision found the file already decided.
func (w *Workflow) Transition(ctx context.Context, d Decision) (*model.ModerationRecord, error) {
	var rec *model.ModerationRecord

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var f model.MediaFile
		if err := tx.Select("id", "moderation_status").Where("id = ?", d.FileID).First(&f).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFileNotFound
			}
			return fmt.Errorf("failed to load file, %w", err)
		}

		from := f.ModerationStatus
		if d.OnlyIfPending && from != model.ModerationPending {
			return errNotPending
		}

		if !CanTransition(from, d.To, d.Type) {
			return fmt.Errorf("%w, %s to %s by %s", ErrInvalidTransition, from, d.To, d.Type)
		}

		res := tx.Model(&model.MediaFile{}).
			Where("id = ? AND moderation_status = ?", d.FileID, from).
			Update("moderation_status", d.To)
		if res.Error != nil {
			return fmt.Errorf("failed to update moderation status, %w", res.Error)
		}

		// Someone else moved the file between the read and the write
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w, status changed concurrently", ErrInvalidTransition)
		}

		rec = &model.ModerationRecord{
			FileID:           d.FileID,
			Type:             d.Type,
			ActorID:          d.ActorID,
			FromStatus:       from,
			Decision:         d.To,
			Confidence:       clamp(d.Confidence),
			PolicyViolations: model.StringSlice(d.Violations),
			ActionTaken:      actionFor(d),
			Reason:           d.Reason,
			DecidedAt:        time.Now().UTC(),
		}

		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to append moderation record, %w", err)
		}

		return nil
	})

	if errors.Is(err, errNotPending) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("Moderation status changed",
		zap.String("file_id", d.FileID),
		zap.String("from", string(rec.FromStatus)),
		zap.String("to", string(rec.Decision)),
		zap.String("type", string(rec.Type)))

	if w.OnChange != nil {
		w.OnChange(d.FileID)
	}

	return rec, nil
}

// Trail returns the records of a file oldest first
func (w *Workflow) Trail(ctx context.Context, fileID string) ([]model.ModerationRecord, error) {
	var recs []model.ModerationRecord

	err := w.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("decided_at ASC, id ASC").
		Find(&recs).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to load moderation trail, %w", err)
	}

	return recs, nil
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}

func actionFor(d Decision) string {
	if d.ActionTaken != "" {
		return d.ActionTaken
	}

	switch d.To {
	case model.ModerationApproved:
		return "published"
	case model.ModerationRejected, model.ModerationFlagged:
		return "hidden"
	case model.ModerationUnderReview:
		return "queued_for_review"
	}

	return "none"
}
