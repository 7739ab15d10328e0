package variant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/service"
	"bitwise74/media-api/internal/storage"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrArchived is returned when the file was archived while variants were
// being rendered. Nothing produced by the run is kept.
var ErrArchived = errors.New("file archived")

// Uploader is the part of the storage gateway used to publish variants
type Uploader interface {
	PutFile(ctx context.Context, key, p, contentType string) (string, int64, error)
	Delete(ctx context.Context, keys ...string) error
	Purge(ctx context.Context, urls []string)
	URL(key string) string
}

type Prober interface {
	Probe(ctx context.Context, p string) (*service.ProbeResult, error)
}

// Report lists what a run did per variant type
type Report struct {
	Created []string
	Skipped []string
	Failed  map[string]error
}

type Generator struct {
	db       *gorm.DB
	ffmpeg   service.FFmpeg
	prober   Prober
	store    Uploader
	encoder  string
	parallel int
}

func NewGenerator(db *gorm.DB, ff service.FFmpeg, prober Prober, store Uploader, encoder string, parallel int) *Generator {
	if parallel <= 0 {
		parallel = 2
	}

	return &Generator{
		db:       db,
		ffmpeg:   ff,
		prober:   prober,
		store:    store,
		encoder:  encoder,
		parallel: parallel,
	}
}

// Generate renders every tier of f that does not exist yet, or all of them
// when force is set. localPath is a local copy of the original. An error is
// returned when any tier failed so the job gets retried, tiers finished in
// this run are skipped next time.
func (g *Generator) Generate(ctx context.Context, f *model.MediaFile, localPath string, force bool) (*Report, error) {
	plans, err := g.plan(ctx, f, localPath)
	if err != nil {
		return nil, err
	}

	report := &Report{Failed: map[string]error{}}
	if len(plans) == 0 {
		return report, nil
	}

	done := map[string]bool{}
	if !force {
		var existing []string
		err := g.db.WithContext(ctx).
			Model(&model.ProcessedVariant{}).
			Where("file_id = ? AND status = ?", f.ID, model.VariantCompleted).
			Pluck("variant_type", &existing).
			Error
		if err != nil {
			return nil, fmt.Errorf("failed to load existing variants, %w", err)
		}

		for _, t := range existing {
			done[t] = true
		}
	}

	workDir, err := os.MkdirTemp("", "variants-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory, %w", err)
	}
	defer os.RemoveAll(workDir)

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(g.parallel).WithContext(ctx)

	for _, plan := range plans {
		if done[plan.Type] {
			report.Skipped = append(report.Skipped, plan.Type)
			continue
		}

		p.Go(func(ctx context.Context) error {
			err := g.render(ctx, f, localPath, workDir, plan, force)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				report.Failed[plan.Type] = err
				return err
			}

			report.Created = append(report.Created, plan.Type)
			return nil
		})
	}

	err = p.Wait()

	zap.L().Info("Variant generation finished",
		zap.String("file_id", f.ID),
		zap.Strings("created", report.Created),
		zap.Strings("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)))

	if errors.Is(err, ErrArchived) {
		return report, ErrArchived
	}

	if err != nil {
		return report, fmt.Errorf("%d of %d variants failed, %w", len(report.Failed), len(plans), err)
	}

	return report, nil
}

func (g *Generator) plan(ctx context.Context, f *model.MediaFile, localPath string) ([]Plan, error) {
	switch f.MediaClass {
	case model.ClassImage, model.ClassVideo:
	case model.ClassAudio:
		return PlanAudio(), nil
	default:
		return nil, nil
	}

	w, h, duration := f.Width, f.Height, f.Duration

	// Metadata extraction runs concurrently, the row may not have
	// dimensions yet
	if (w == 0 || h == 0 || (f.MediaClass == model.ClassVideo && duration == 0)) && g.prober != nil {
		probe, err := g.prober.Probe(ctx, localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to probe source, %w", err)
		}

		w, h = probe.Dimensions()
		duration = probe.DurationSeconds()
		f.Width, f.Height, f.Duration = w, h, duration
	}

	if f.MediaClass == model.ClassImage {
		return PlanImage(w, h, f.MIMEType), nil
	}

	return PlanVideo(w, h), nil
}

func (g *Generator) args(f *model.MediaFile, input, output string, p Plan) []string {
	switch {
	case p.Video != nil:
		return VideoArgs(input, output, g.encoder, p)
	case p.Audio != nil:
		return AudioArgs(input, output, p)
	case f.MediaClass == model.ClassVideo:
		return service.ThumbnailArgs(input, output, service.ThumbnailOffset(f.Duration), p.Height)
	}

	return ImageArgs(input, output, p)
}

// render produces, uploads and registers one variant
func (g *Generator) render(ctx context.Context, f *model.MediaFile, input, workDir string, p Plan, force bool) error {
	output := filepath.Join(workDir, p.Filename())
	defer os.Remove(output)

	if err := g.ffmpeg.Run(ctx, g.args(f, input, output, p), nil); err != nil {
		g.recordFailure(ctx, f.ID, p, err)
		return fmt.Errorf("%s, %w", p.Type, err)
	}

	if archived, err := g.isArchived(ctx, f.ID); err != nil {
		return err
	} else if archived {
		return ErrArchived
	}

	key := storage.VariantKey(f.ID, p.Filename())

	url, size, err := g.store.PutFile(ctx, key, output, p.MIMEType())
	if err != nil {
		return fmt.Errorf("%s upload, %w", p.Type, err)
	}

	row := model.ProcessedVariant{
		FileID:      f.ID,
		VariantType: p.Type,
		Filename:    p.Filename(),
		Size:        size,
		MIMEType:    p.MIMEType(),
		StoragePath: key,
		CDNURL:      url,
		Width:       p.Width,
		Height:      p.Height,
		Params:      model.JSONMap(p.Params()),
		Status:      model.VariantCompleted,
	}
	if p.Video != nil || p.Audio != nil {
		row.Duration = f.Duration
	}

	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file model.MediaFile
		if err := tx.Select("id", "archived").First(&file, "id = ?", f.ID).Error; err != nil {
			return err
		}

		if file.Archived {
			return ErrArchived
		}

		return upsert(tx, &row)
	})
	if err != nil {
		// Keep storage in line with the table
		if derr := g.store.Delete(context.WithoutCancel(ctx), key); derr != nil {
			zap.L().Error("Failed to roll back variant upload", zap.String("key", key), zap.Error(derr))
		}

		if errors.Is(err, ErrArchived) {
			return ErrArchived
		}

		return fmt.Errorf("failed to save %s variant, %w", p.Type, err)
	}

	// Keys are stable per type, a forced rerun replaces cached copies
	if force {
		g.store.Purge(ctx, []string{url})
	}

	return nil
}

func (g *Generator) recordFailure(ctx context.Context, fileID string, p Plan, cause error) {
	if archived, err := g.isArchived(ctx, fileID); err != nil || archived {
		return
	}

	row := model.ProcessedVariant{
		FileID:      fileID,
		VariantType: p.Type,
		Filename:    p.Filename(),
		MIMEType:    p.MIMEType(),
		Params:      model.JSONMap(p.Params()),
		Status:      model.VariantFailed,
		Error:       cause.Error(),
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.ProcessedVariant
		err := tx.Where("file_id = ? AND variant_type = ?", fileID, p.Type).Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}

		// A failure never replaces a completed rendition
		if existing.Status == model.VariantCompleted {
			return nil
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_id"}, {Name: "variant_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "error", "params", "updated_at"}),
		}).Create(&row).Error
	})
	if err != nil {
		zap.L().Error("Failed to record variant failure", zap.String("file_id", fileID), zap.Error(err))
	}
}

func (g *Generator) isArchived(ctx context.Context, fileID string) (bool, error) {
	var archived bool

	err := g.db.WithContext(ctx).
		Model(&model.MediaFile{}).
		Where("id = ?", fileID).
		Select("archived").
		Scan(&archived).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check archive flag, %w", err)
	}

	return archived, nil
}

func upsert(tx *gorm.DB, row *model.ProcessedVariant) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "file_id"}, {Name: "variant_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"filename", "size", "mime_type", "storage_path", "cdn_url",
			"width", "height", "duration", "params", "status", "error", "updated_at",
		}),
	}).Create(row).Error
}
