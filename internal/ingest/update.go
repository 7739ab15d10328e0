package ingest

import (
	"context"
	"errors"
	"fmt"

	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/pkg/validators"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Patch holds the owner editable fields. Nil fields are left unchanged.
type Patch struct {
	Title             *string `json:"title"`
	Description       *string `json:"description"`
	Privacy           *string `json:"privacy"`
	RelatedEntityType *string `json:"related_entity_type"`
	RelatedEntityID   *string `json:"related_entity_id"`
}

// Update applies p to a non-archived file and returns the new row
func (s *Service) Update(ctx context.Context, fileID string, p Patch) (*model.MediaFile, error) {
	var f model.MediaFile

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND archived = ?", fileID, false).First(&f).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFileNotFound
			}
			return fmt.Errorf("failed to load file, %w", err)
		}

		updates := map[string]any{}

		title, description := f.Title, f.Description
		if p.Title != nil {
			title = *p.Title
			updates["title"] = title
		}
		if p.Description != nil {
			description = *p.Description
			updates["description"] = description
		}
		if err := validators.TextValidator(title, description); err != nil {
			return err
		}

		if p.Privacy != nil {
			if err := validators.PrivacyValidator(*p.Privacy); err != nil {
				return err
			}
			updates["privacy"] = *p.Privacy
		}

		if p.RelatedEntityType != nil || p.RelatedEntityID != nil {
			ref := f.Related
			if p.RelatedEntityType != nil {
				ref.Type = *p.RelatedEntityType
			}
			if p.RelatedEntityID != nil {
				ref.ID = *p.RelatedEntityID
			}

			ref = model.NewEntityRef(ref.Type, ref.ID)
			updates["related_type"] = ref.Type
			updates["related_id"] = ref.ID
		}

		if len(updates) == 0 {
			return nil
		}

		if err := tx.Model(&f).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update file, %w", err)
		}

		if p.Privacy != nil {
			if err := s.syncPublicClaim(tx, &f, model.Privacy(*p.Privacy)); err != nil {
				return err
			}
		}

		return tx.Where("id = ?", fileID).First(&f).Error
	})
	if err != nil {
		return nil, err
	}

	s.changed(fileID)

	return &f, nil
}

// RecordUsage appends an access log entry
func (s *Service) RecordUsage(ctx context.Context, fileID string, actorID *string, action model.UsageAction, variant string) error {
	err := s.db.WithContext(ctx).Create(&model.UsageRecord{
		FileID:  fileID,
		ActorID: actorID,
		Action:  action,
		Variant: variant,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to record usage, %w", err)
	}

	return nil
}

// syncPublicClaim keeps the shared public fingerprint in line with a
// privacy change. A file turning public only takes the claim when no other
// public file holds it.
func (s *Service) syncPublicClaim(tx *gorm.DB, f *model.MediaFile, privacy model.Privacy) error {
	if s.opts.AllowDuplicates || s.opts.Scope != ScopePublic {
		return nil
	}

	if !s.sharesPublic(privacy) {
		err := tx.Where("scope_key = ? AND file_id = ?", publicScopeKey, f.ID).Delete(&model.ContentFingerprint{}).Error
		if err != nil {
			return fmt.Errorf("failed to release public fingerprint, %w", err)
		}
		return nil
	}

	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ContentFingerprint{
		ScopeKey:    publicScopeKey,
		ContentHash: f.ContentHash,
		FileID:      f.ID,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to claim public fingerprint, %w", err)
	}

	return nil
}
