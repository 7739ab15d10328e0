package tagger

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"bitwise74/media-api/internal/model"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultThreshold = 0.5

type Tagger struct {
	db        *gorm.DB
	threshold float64
	ids       *lru.Cache[string, uint]
}

func New(db *gorm.DB, threshold float64, cacheSize int) (*Tagger, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}

	cache, err := lru.New[string, uint](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tag cache, %w", err)
	}

	return &Tagger{db: db, threshold: threshold, ids: cache}, nil
}

// Apply attaches every candidate at or over the threshold to f. Existing
// associations are left as they are, rerunning is a no-op.
func (t *Tagger) Apply(ctx context.Context, f *model.MediaFile) ([]Candidate, error) {
	var applied []Candidate

	for _, c := range Candidates(f) {
		if c.Confidence < t.threshold {
			continue
		}

		if err := t.associate(ctx, f.ID, c.Name, c.Confidence, true); err != nil {
			return applied, err
		}

		applied = append(applied, c)
	}

	zap.L().Debug("Tagged file", zap.String("file_id", f.ID), zap.Int("tags", len(applied)))

	return applied, nil
}

// AddManual attaches owner supplied tags with full confidence. A manual tag
// replaces an automatic association of the same name.
func (t *Tagger) AddManual(ctx context.Context, fileID string, names []string) ([]string, error) {
	var added []string

	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if n := utf8.RuneCountInString(name); n < minTagLength || n > maxTagLength {
			continue
		}

		if err := t.associate(ctx, fileID, name, ConfidenceManual, false); err != nil {
			return added, err
		}

		added = append(added, name)
	}

	return added, nil
}

func (t *Tagger) associate(ctx context.Context, fileID, name string, confidence float64, auto bool) error {
	tagID, err := t.TagID(ctx, name)
	if err != nil {
		return err
	}

	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}, {Name: "tag_id"}},
		DoNothing: true,
	}
	if !auto {
		conflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_id"}, {Name: "tag_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"confidence", "auto_generated"}),
		}
	}

	err = t.db.WithContext(ctx).Omit(clause.Associations).Clauses(conflict).Create(&model.TagAssociation{
		FileID:        fileID,
		TagID:         tagID,
		Confidence:    confidence,
		AutoGenerated: auto,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to tag file, %w", err)
	}

	return nil
}

// TagID returns the id of the vocabulary entry, creating it on first use
func (t *Tagger) TagID(ctx context.Context, name string) (uint, error) {
	if id, ok := t.ids.Get(name); ok {
		return id, nil
	}

	tx := t.db.WithContext(ctx)

	// Concurrent workers may create the same tag, the loser reads the row
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&model.Tag{Name: name}).Error
	if err != nil {
		return 0, fmt.Errorf("failed to create tag, %w", err)
	}

	var tag model.Tag
	if err := tx.Where("name = ?", name).First(&tag).Error; err != nil {
		return 0, fmt.Errorf("failed to load tag, %w", err)
	}

	t.ids.Add(name, tag.ID)

	return tag.ID, nil
}

// Remove detaches every tag of a file
func (t *Tagger) Remove(ctx context.Context, fileID string) error {
	return t.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&model.TagAssociation{}).Error
}
