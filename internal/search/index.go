// Package search answers listing queries over media files
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitwise74/media-api/internal/model"

	"github.com/jellydator/ttlcache/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultLimit       = 20
	MaxLimit           = 100
	suggestedTagsLimit = 10
)

var ErrFileNotFound = errors.New("file not found")

var sortColumns = map[string]string{
	"created_at": "media_files.created_at",
	"size":       "media_files.size",
	"title":      "media_files.title",
	"filename":   "media_files.original_filename",
}

// Query filters files. Empty fields do not filter.
type Query struct {
	Text             string
	MediaTypes       []model.MediaClass
	Categories       []string
	Tags             []string
	CreatedFrom      *time.Time
	CreatedTo        *time.Time
	MinSize          int64
	MaxSize          int64
	ModerationStatus model.ModerationStatus
	ProcessingStatus model.ProcessingStatus

	// OwnerID limits results to one owner. When it matches ViewerID the
	// owner sees all their files, otherwise only public ones.
	OwnerID  string
	ViewerID string

	// Privileged viewers (moderators) see every non-archived file
	Privileged bool

	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

func (q *Query) normalize() {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	q.Limit = min(q.Limit, MaxLimit)

	if q.Page <= 0 {
		q.Page = 1
	}

	if _, ok := sortColumns[q.SortBy]; !ok {
		q.SortBy = "created_at"
	}

	q.SortOrder = strings.ToLower(q.SortOrder)
	if q.SortOrder != "asc" {
		q.SortOrder = "desc"
	}

	q.Text = strings.TrimSpace(q.Text)
}

type TagCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type Page struct {
	Items         []model.MediaFile `json:"items"`
	Total         int64             `json:"total"`
	Page          int               `json:"page"`
	Limit         int               `json:"limit"`
	SuggestedTags []TagCount        `json:"suggested_tags"`
}

type Index struct {
	db    *gorm.DB
	cache *ttlcache.Cache
}

func New(db *gorm.DB, ttl time.Duration, size int) *Index {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	cache.SkipTTLExtensionOnHit(true)
	if size > 0 {
		cache.SetCacheSizeLimit(size)
	}

	return &Index{db: db, cache: cache}
}

func (ix *Index) Close() error {
	return ix.cache.Close()
}

// filter applies every condition of q to tx
func (ix *Index) filter(tx *gorm.DB, q Query) *gorm.DB {
	tx = tx.Model(&model.MediaFile{}).Where("media_files.archived = ?", false)

	switch {
	case q.Privileged:
	case q.OwnerID != "" && q.OwnerID == q.ViewerID:
	default:
		tx = tx.Where("media_files.privacy = ? AND media_files.moderation_status = ? AND media_files.processing_status <> ?",
			model.PrivacyPublic, model.ModerationApproved, model.ProcessingFailed)
	}

	if q.OwnerID != "" {
		tx = tx.Where("media_files.owner_id = ?", q.OwnerID)
	}

	if q.Text != "" {
		like := "%" + escapeLike(strings.ToLower(q.Text)) + "%"
		tx = tx.Where(`LOWER(media_files.title) LIKE ? ESCAPE '\' OR LOWER(media_files.original_filename) LIKE ? ESCAPE '\' OR LOWER(media_files.description) LIKE ? ESCAPE '\'`,
			like, like, like)
	}

	if len(q.MediaTypes) > 0 {
		tx = tx.Where("media_files.media_class IN ?", q.MediaTypes)
	}
	if len(q.Categories) > 0 {
		tx = tx.Where("media_files.category IN ?", q.Categories)
	}

	for _, tag := range q.Tags {
		tx = tx.Where("media_files.id IN (?)", ix.db.
			Table("tag_associations").
			Select("tag_associations.file_id").
			Joins("JOIN tags ON tags.id = tag_associations.tag_id").
			Where("tags.name = ?", strings.ToLower(strings.TrimSpace(tag))))
	}

	if q.CreatedFrom != nil {
		tx = tx.Where("media_files.created_at >= ?", *q.CreatedFrom)
	}
	if q.CreatedTo != nil {
		tx = tx.Where("media_files.created_at <= ?", *q.CreatedTo)
	}
	if q.MinSize > 0 {
		tx = tx.Where("media_files.size >= ?", q.MinSize)
	}
	if q.MaxSize > 0 {
		tx = tx.Where("media_files.size <= ?", q.MaxSize)
	}

	if q.ModerationStatus != "" {
		tx = tx.Where("media_files.moderation_status = ?", q.ModerationStatus)
	}
	if q.ProcessingStatus != "" {
		tx = tx.Where("media_files.processing_status = ?", q.ProcessingStatus)
	}

	return tx
}

func (ix *Index) Search(ctx context.Context, q Query) (*Page, error) {
	q.normalize()

	tx := ix.db.WithContext(ctx)
	page := &Page{Page: q.Page, Limit: q.Limit, Items: []model.MediaFile{}, SuggestedTags: []TagCount{}}

	if err := ix.filter(tx, q).Count(&page.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count files, %w", err)
	}

	if page.Total == 0 {
		return page, nil
	}

	err := ix.filter(tx, q).
		Order(sortColumns[q.SortBy] + " " + q.SortOrder).
		Order("media_files.id ASC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&page.Items).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to search files, %w", err)
	}

	err = tx.Table("tag_associations").
		Select("tags.name AS name, COUNT(*) AS count").
		Joins("JOIN tags ON tags.id = tag_associations.tag_id").
		Where("tag_associations.file_id IN (?)", ix.filter(tx, q).Select("media_files.id")).
		Group("tags.name").
		Order("count DESC, tags.name ASC").
		Limit(suggestedTagsLimit).
		Scan(&page.SuggestedTags).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to collect suggested tags, %w", err)
	}

	return page, nil
}

// Get returns a file with its completed variants. Results are cached until
// Invalidate is called for the file or the TTL runs out. Archived files are
// returned too, callers decide visibility.
func (ix *Index) Get(ctx context.Context, id string) (*model.MediaFile, error) {
	if v, err := ix.cache.Get(id); err == nil {
		f := *v.(*model.MediaFile)
		return &f, nil
	}

	var f model.MediaFile
	err := ix.db.WithContext(ctx).
		Preload("Variants", "status = ?", model.VariantCompleted).
		Where("id = ?", id).
		First(&f).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file, %w", err)
	}

	if err := ix.cache.Set(id, &f); err != nil {
		zap.L().Debug("Failed to cache file", zap.String("file_id", id), zap.Error(err))
	}

	cp := f
	return &cp, nil
}

func (ix *Index) Invalidate(id string) {
	// Missing keys are fine
	_ = ix.cache.Remove(id)
}

// Tags lists the vocabulary with the number of visible files per tag
func (ix *Index) Tags(ctx context.Context, limit int) ([]TagCount, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}

	out := []TagCount{}
	err := ix.db.WithContext(ctx).
		Table("tag_associations").
		Select("tags.name AS name, COUNT(*) AS count").
		Joins("JOIN tags ON tags.id = tag_associations.tag_id").
		Joins("JOIN media_files ON media_files.id = tag_associations.file_id").
		Where("media_files.archived = ? AND media_files.privacy = ? AND media_files.moderation_status = ?",
			false, model.PrivacyPublic, model.ModerationApproved).
		Group("tags.name").
		Order("count DESC, tags.name ASC").
		Limit(limit).
		Scan(&out).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tags, %w", err)
	}

	return out, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
