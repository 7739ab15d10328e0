// Package ingest is the synchronous side of the pipeline: it accepts
// uploads, deduplicates them by content, persists the original and hands
// the file to the job orchestrator. It also archives files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/similarity"
	"bitwise74/media-api/internal/storage"
	"bitwise74/media-api/pkg/util"
	"bitwise74/media-api/pkg/validators"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	ScopeOwner  = "owner"
	ScopePublic = "public"
	ScopeGlobal = "global"

	// publicScopeKey is the namespace shared by public files under the
	// public dedup scope
	publicScopeKey = "@public"

	storageNameLength = 16
)

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrParentNotFound = errors.New("parent file not found")

	// errDuplicate rolls back the ingress transaction once a claim lost
	errDuplicate = errors.New("duplicate content")
)

type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, keys ...string) error
}

type Jobs interface {
	Track(tx *gorm.DB, fileID string) error
	Dispatch(ctx context.Context, fileID string) error
	CancelAll(ctx context.Context, fileID string) error
}

type Options struct {
	AllowDuplicates bool
	Scope           string
}

// Upload is one incoming file with its form fields
type Upload struct {
	OwnerID      string
	Filename     string
	DeclaredMIME string
	Body         io.Reader
	Form         validators.UploadForm
}

// Result is returned by Upload. Duplicate is set when the content was
// already stored, File is then the existing record.
type Result struct {
	File      *model.MediaFile
	Duplicate bool
}

type Service struct {
	db        *gorm.DB
	validator *validators.Validator
	store     Store
	jobs      Jobs
	opts      Options

	// OnChange is called after a file row changed
	OnChange func(fileID string)
}

func New(db *gorm.DB, v *validators.Validator, store Store, jobs Jobs, opts Options) *Service {
	if opts.Scope == "" {
		opts.Scope = ScopeOwner
	}

	return &Service{db: db, validator: v, store: store, jobs: jobs, opts: opts}
}

// ScopeKey is the fingerprint namespace of an owner under the configured
// dedup scope
func (s *Service) ScopeKey(ownerID string) string {
	if s.opts.Scope == ScopeGlobal {
		return "*"
	}

	return ownerID
}

// scopeKeys lists every namespace an upload claims its hash in
func (s *Service) scopeKeys(ownerID string, privacy model.Privacy) []string {
	if s.sharesPublic(privacy) {
		return []string{publicScopeKey, s.ScopeKey(ownerID)}
	}

	return []string{s.ScopeKey(ownerID)}
}

func (s *Service) sharesPublic(privacy model.Privacy) bool {
	return !s.opts.AllowDuplicates && s.opts.Scope == ScopePublic && privacy == model.PrivacyPublic
}

// Upload validates, fingerprints and persists u. Nothing is written when
// validation fails or the content is a duplicate.
func (s *Service) Upload(ctx context.Context, u Upload) (*Result, error) {
	u.Form.Normalize()
	if err := validators.UploadFormValidator(&u.Form); err != nil {
		return nil, err
	}

	temp, err := os.CreateTemp("", "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file, %w", err)
	}
	defer os.Remove(temp.Name())
	defer temp.Close()

	hash, _, err := similarity.HashReader(io.TeeReader(u.Body, temp))
	if err != nil {
		return nil, fmt.Errorf("failed to spool upload, %w", err)
	}

	res, err := s.validator.Validate(ctx, temp.Name(), u.Filename, u.Form.Category)
	if err != nil {
		return nil, err
	}

	f := &model.MediaFile{
		ID:               uuid.NewString(),
		Filename:         util.RandStr(storageNameLength) + res.Extension,
		OriginalFilename: u.Filename,
		Title:            u.Form.Title,
		Description:      u.Form.Description,
		Size:             res.Size,
		DeclaredMIME:     u.DeclaredMIME,
		MIMEType:         res.MIMEType,
		MediaClass:       res.MediaClass,
		Category:         u.Form.Category,
		ContentHash:      hash,
		Privacy:          model.Privacy(u.Form.Privacy),
		ProcessingStatus: model.ProcessingPending,
		ModerationStatus: model.ModerationPending,
		OwnerID:          u.OwnerID,
		Related:          model.NewEntityRef(u.Form.RelatedEntityType, u.Form.RelatedEntityID),
		Metadata:         model.JSONMap{},
		Version:          1,
	}
	f.StoragePath = storage.OriginalKey(f.Filename)

	if res.Probe != nil {
		f.Width, f.Height = res.Probe.Dimensions()
		f.Duration = res.Probe.DurationSeconds()
	}

	var (
		duplicate *model.MediaFile
		uploaded  bool
	)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if u.Form.ParentID != "" {
			if err := s.attachParent(tx, f, u.Form.ParentID); err != nil {
				return err
			}
		}

		if !s.opts.AllowDuplicates {
			for _, key := range s.scopeKeys(u.OwnerID, f.Privacy) {
				winner, err := s.claim(tx, key, hash, f.ID)
				if err != nil {
					return err
				}
				if winner != nil {
					duplicate = winner
					return errDuplicate
				}
			}
		}

		if _, err := temp.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind upload, %w", err)
		}

		cdnURL, err := s.store.Put(ctx, f.StoragePath, temp, f.Size, f.MIMEType)
		if err != nil {
			return err
		}
		uploaded = true
		f.CDNURL = cdnURL

		if err := tx.Omit(clause.Associations).Create(f).Error; err != nil {
			return fmt.Errorf("failed to create file record, %w", err)
		}

		return s.jobs.Track(tx, f.ID)
	})
	if errors.Is(err, errDuplicate) {
		err = nil
	}
	if err != nil {
		if uploaded {
			if derr := s.store.Delete(context.WithoutCancel(ctx), f.StoragePath); derr != nil {
				zap.L().Error("Failed to remove orphaned original", zap.String("key", f.StoragePath), zap.Error(derr))
			}
		}

		return nil, err
	}

	if duplicate != nil {
		duplicatesTotal.Inc()
		zap.L().Info("Duplicate upload", zap.String("file_id", duplicate.ID), zap.String("owner_id", u.OwnerID))
		return &Result{File: duplicate, Duplicate: true}, nil
	}

	if err := s.jobs.Dispatch(ctx, f.ID); err != nil {
		zap.L().Warn("Failed to dispatch jobs, the sweeper will retry", zap.String("file_id", f.ID), zap.Error(err))
	}

	uploadsTotal.WithLabelValues(string(f.MediaClass)).Inc()
	uploadBytes.WithLabelValues(string(f.MediaClass)).Add(float64(f.Size))

	zap.L().Info("File ingested",
		zap.String("file_id", f.ID),
		zap.String("class", string(f.MediaClass)),
		zap.Int64("size", f.Size))

	s.changed(f.ID)

	return &Result{File: f}, nil
}

// claim inserts the fingerprint of fileID. When the hash is already claimed
// in the scope the existing file is returned instead.
func (s *Service) claim(tx *gorm.DB, scopeKey, hash, fileID string) (*model.MediaFile, error) {
	q := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ContentFingerprint{
		ScopeKey:    scopeKey,
		ContentHash: hash,
		FileID:      fileID,
	})
	if q.Error != nil {
		return nil, fmt.Errorf("failed to claim fingerprint, %w", q.Error)
	}

	if q.RowsAffected > 0 {
		return nil, nil
	}

	var fp model.ContentFingerprint
	if err := tx.Where("scope_key = ? AND content_hash = ?", scopeKey, hash).First(&fp).Error; err != nil {
		return nil, fmt.Errorf("failed to load fingerprint, %w", err)
	}

	var existing model.MediaFile
	if err := tx.Where("id = ?", fp.FileID).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load duplicate file, %w", err)
	}

	return &existing, nil
}

// attachParent makes f a new version of parentID, which must belong to the
// same owner
func (s *Service) attachParent(tx *gorm.DB, f *model.MediaFile, parentID string) error {
	var parent model.MediaFile

	err := tx.Select("id", "version", "owner_id").
		Where("id = ? AND owner_id = ? AND archived = ?", parentID, f.OwnerID, false).
		First(&parent).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrParentNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load parent file, %w", err)
	}

	f.ParentID = &parent.ID
	f.Version = parent.Version + 1

	return nil
}

// Archive hides the file, releases its fingerprint and removes every
// stored object. Jobs still in flight notice the flag and stop.
func (s *Service) Archive(ctx context.Context, fileID string) error {
	var (
		f        model.MediaFile
		variants []model.ProcessedVariant
		already  bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", fileID).First(&f).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFileNotFound
			}
			return fmt.Errorf("failed to load file, %w", err)
		}

		if f.Archived {
			already = true
			return nil
		}

		now := time.Now().UTC()
		err := tx.Model(&model.MediaFile{}).
			Where("id = ?", fileID).
			Updates(map[string]any{"archived": true, "archived_at": now}).
			Error
		if err != nil {
			return fmt.Errorf("failed to archive file, %w", err)
		}

		if err := tx.Where("file_id = ?", fileID).Delete(&model.ContentFingerprint{}).Error; err != nil {
			return fmt.Errorf("failed to release fingerprint, %w", err)
		}

		if err := tx.Where("file_id = ?", fileID).Find(&variants).Error; err != nil {
			return fmt.Errorf("failed to load variants, %w", err)
		}

		if err := tx.Where("file_id = ?", fileID).Delete(&model.ProcessedVariant{}).Error; err != nil {
			return fmt.Errorf("failed to delete variants, %w", err)
		}

		return nil
	})
	if err != nil || already {
		return err
	}

	if err := s.jobs.CancelAll(ctx, fileID); err != nil {
		zap.L().Warn("Failed to cancel jobs of archived file", zap.String("file_id", fileID), zap.Error(err))
	}

	keys := []string{f.StoragePath}
	for _, v := range variants {
		if v.StoragePath != "" {
			keys = append(keys, v.StoragePath)
		}
	}

	// The record is archived either way, leftover objects are only logged
	if err := s.store.Delete(ctx, keys...); err != nil {
		zap.L().Error("Failed to delete objects of archived file",
			zap.String("file_id", fileID),
			zap.Strings("keys", keys),
			zap.Error(err))
	}

	zap.L().Info("File archived", zap.String("file_id", fileID), zap.Int("objects", len(keys)))

	s.changed(fileID)

	return nil
}

func (s *Service) changed(fileID string) {
	if s.OnChange != nil {
		s.OnChange(fileID)
	}
}
