package similarity

import (
	"context"
	"fmt"
	"sort"

	"bitwise74/media-api/internal/model"

	"gorm.io/gorm"
)

const (
	DefaultThreshold         = 0.8
	FilenameThreshold        = 0.8
	sizeTolerance            = 0.10
	defaultMaxCandidates     = 500
	filenameCandidateCeiling = 2000
)

// Match is a candidate that scored over the threshold
type Match struct {
	File    model.MediaFile    `json:"file"`
	Score   float64            `json:"score"`
	Signals map[string]float64 `json:"signals,omitempty"`
}

type Engine struct {
	db            *gorm.DB
	maxCandidates int
}

func NewEngine(db *gorm.DB, maxCandidates int) *Engine {
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}

	return &Engine{db: db, maxCandidates: maxCandidates}
}

func (e *Engine) load(ctx context.Context, fileID string) (*model.MediaFile, error) {
	var f model.MediaFile
	if err := e.db.WithContext(ctx).First(&f, "id = ?", fileID).Error; err != nil {
		return nil, err
	}

	return &f, nil
}

// NearDuplicates scores files of the same class whose size is within 10%
// of the file's and returns the ones at or over threshold, best first
func (e *Engine) NearDuplicates(ctx context.Context, fileID string, threshold float64) ([]Match, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	f, err := e.load(ctx, fileID)
	if err != nil {
		return nil, err
	}

	lo := int64(float64(f.Size) * (1 - sizeTolerance))
	hi := int64(float64(f.Size) * (1 + sizeTolerance))

	var candidates []model.MediaFile
	err = e.db.WithContext(ctx).
		Where("media_class = ? AND archived = ? AND id <> ?", f.MediaClass, false, f.ID).
		Where("size BETWEEN ? AND ?", lo, hi).
		Order("created_at DESC").
		Limit(e.maxCandidates).
		Find(&candidates).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates, %w", err)
	}

	if len(candidates) == 0 {
		return []Match{}, nil
	}

	ids := make([]string, 0, len(candidates)+1)
	ids = append(ids, f.ID)
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	tags, err := TagsOf(ctx, e.db, ids...)
	if err != nil {
		return nil, err
	}

	self := ItemOf(f, tags[f.ID])
	matches := []Match{}

	for _, c := range candidates {
		score, signals := Score(self, ItemOf(&c, tags[c.ID]))
		if score >= threshold {
			matches = append(matches, Match{File: c, Score: score, Signals: signals})
		}
	}

	sortMatches(matches)

	return matches, nil
}

// FilenameDuplicates reports the owner's files of the same class whose
// normalized original filename is at least 80% similar
func (e *Engine) FilenameDuplicates(ctx context.Context, fileID string) ([]Match, error) {
	f, err := e.load(ctx, fileID)
	if err != nil {
		return nil, err
	}

	var candidates []model.MediaFile
	err = e.db.WithContext(ctx).
		Where("owner_id = ? AND media_class = ? AND archived = ? AND id <> ?", f.OwnerID, f.MediaClass, false, f.ID).
		Order("created_at DESC").
		Limit(filenameCandidateCeiling).
		Find(&candidates).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates, %w", err)
	}

	matches := []Match{}
	for _, c := range candidates {
		if score := FilenameSimilarity(f.OriginalFilename, c.OriginalFilename); score >= FilenameThreshold {
			matches = append(matches, Match{File: c, Score: score, Signals: map[string]float64{"filename": score}})
		}
	}

	sortMatches(matches)

	return matches, nil
}

// ExactDuplicates lists other live files with the same content hash
func (e *Engine) ExactDuplicates(ctx context.Context, fileID string) ([]model.MediaFile, error) {
	f, err := e.load(ctx, fileID)
	if err != nil {
		return nil, err
	}

	out := []model.MediaFile{}
	err = e.db.WithContext(ctx).
		Where("content_hash = ? AND archived = ? AND id <> ?", f.ContentHash, false, f.ID).
		Order("created_at ASC").
		Find(&out).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to load duplicates, %w", err)
	}

	return out, nil
}

// TagsOf returns the tag names of each file
func TagsOf(ctx context.Context, db *gorm.DB, fileIDs ...string) (map[string][]string, error) {
	var rows []struct {
		FileID string
		Name   string
	}

	err := db.WithContext(ctx).
		Table("tag_associations").
		Select("tag_associations.file_id, tags.name").
		Joins("JOIN tags ON tags.id = tag_associations.tag_id").
		Where("tag_associations.file_id IN ?", fileIDs).
		Order("tags.name").
		Scan(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tags, %w", err)
	}

	out := make(map[string][]string, len(fileIDs))
	for _, r := range rows {
		out[r.FileID] = append(out[r.FileID], r.Name)
	}

	return out, nil
}

func sortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool {
		return m[i].Score > m[j].Score
	})
}
