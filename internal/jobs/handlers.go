package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bitwise74/media-api/internal/metadata"
	"bitwise74/media-api/internal/model"
	"bitwise74/media-api/internal/moderation"
	"bitwise74/media-api/internal/tagger"
	"bitwise74/media-api/internal/variant"

	"gorm.io/gorm"
)

type Storage interface {
	Fetch(ctx context.Context, key string) (string, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Extractor interface {
	Extract(ctx context.Context, f *model.MediaFile, localPath string) *metadata.Result
}

type Generator interface {
	Generate(ctx context.Context, f *model.MediaFile, localPath string, force bool) (*variant.Report, error)
}

type Tagger interface {
	Apply(ctx context.Context, f *model.MediaFile) ([]tagger.Candidate, error)
}

// Pipeline holds the components the job handlers drive
type Pipeline struct {
	DB         *gorm.DB
	Storage    Storage
	Extractor  Extractor
	Generator  Generator
	Tagger     Tagger
	Workflow   *moderation.Workflow
	Classifier moderation.Classifier
	Policy     moderation.Policy

	// SignedURLTTL bounds how long the classifier may read the original
	SignedURLTTL time.Duration
}

// DefaultTimeouts are the per delivery deadlines. Variant rendering gets
// the ffmpeg timeout for each of the slowest tiers.
func DefaultTimeouts(ffmpegTimeout time.Duration) map[model.JobType]time.Duration {
	if ffmpegTimeout <= 0 {
		ffmpegTimeout = 20 * time.Minute
	}

	return map[model.JobType]time.Duration{
		model.JobMetadata:       5 * time.Minute,
		model.JobVirusScan:      5 * time.Minute,
		model.JobModerationScan: 5 * time.Minute,
		model.JobVariants:       3 * ffmpegTimeout,
		model.JobTagging:        time.Minute,
	}
}

// Register installs every handler on o
func (p *Pipeline) Register(o *Orchestrator, timeouts map[model.JobType]time.Duration) {
	o.HandleFunc(model.JobMetadata, timeouts[model.JobMetadata], p.extractMetadata)
	o.HandleFunc(model.JobVirusScan, timeouts[model.JobVirusScan], p.virusScan)
	o.HandleFunc(model.JobModerationScan, timeouts[model.JobModerationScan], func(ctx context.Context, f *model.MediaFile, job *model.Job) (model.JSONMap, error) {
		ready, err := o.ready(ctx, f.ID, model.JobModerationScan)
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, ErrDeferred
		}

		return p.moderationScan(ctx, f, job)
	})
	o.HandleFunc(model.JobVariants, timeouts[model.JobVariants], p.generateVariants)
	o.HandleFunc(model.JobTagging, timeouts[model.JobTagging], p.applyTags)
}

func (p *Pipeline) fetchOriginal(ctx context.Context, f *model.MediaFile) (string, error) {
	path, err := p.Storage.Fetch(ctx, f.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to fetch original, %w", err)
	}

	return path, nil
}

func (p *Pipeline) extractMetadata(ctx context.Context, f *model.MediaFile, _ *model.Job) (model.JSONMap, error) {
	path, err := p.fetchOriginal(ctx, f)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	res := p.Extractor.Extract(ctx, f, path)

	updates := map[string]any{"metadata": f.Metadata.Merge(res.Metadata)}
	if res.Width > 0 && res.Height > 0 {
		updates["width"] = res.Width
		updates["height"] = res.Height
	}
	if res.Duration > 0 {
		updates["duration"] = res.Duration
	}

	q := p.DB.WithContext(ctx).
		Model(&model.MediaFile{}).
		Where("id = ? AND archived = ?", f.ID, false).
		Updates(updates)
	if q.Error != nil {
		return nil, fmt.Errorf("failed to store metadata, %w", q.Error)
	}
	if q.RowsAffected == 0 {
		return nil, ErrFileArchived
	}

	out := model.JSONMap{"fields": len(res.Metadata)}
	if res.Err != nil {
		out["extraction_error"] = res.Err.Error()
	}

	return out, nil
}

func (p *Pipeline) scan(ctx context.Context, f *model.MediaFile) (*moderation.Verdict, error) {
	url, err := p.Storage.SignedURL(ctx, f.StoragePath, p.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign original url, %w", err)
	}

	v, err := p.Classifier.Submit(ctx, f.ID, url)
	if err != nil {
		return nil, fmt.Errorf("failed to classify file, %w", err)
	}

	return v, nil
}

func (p *Pipeline) virusScan(ctx context.Context, f *model.MediaFile, _ *model.Job) (model.JSONMap, error) {
	v, err := p.scan(ctx, f)
	if err != nil {
		return nil, err
	}

	rec, err := p.Workflow.ApplyVirusScan(ctx, f.ID, v)
	if err != nil {
		return nil, err
	}

	out := model.JSONMap{"clean": v.IsClean, "verdict": v.Raw}
	if rec != nil {
		out["decision"] = rec.Decision
	}

	return out, nil
}

func (p *Pipeline) moderationScan(ctx context.Context, f *model.MediaFile, _ *model.Job) (model.JSONMap, error) {
	// Decided by the virus scan or a moderator already
	if f.ModerationStatus != model.ModerationPending {
		return model.JSONMap{"skipped": string(f.ModerationStatus)}, nil
	}

	v, err := p.scan(ctx, f)
	if err != nil {
		return nil, err
	}

	rec, err := p.Workflow.ApplyModerationScan(ctx, f.ID, v, p.Policy)
	if err != nil {
		return nil, err
	}

	out := model.JSONMap{
		"nsfw_score":     v.NSFWScore,
		"violence_score": v.ViolenceScore,
	}
	if rec != nil {
		out["decision"] = rec.Decision
	}

	return out, nil
}

func (p *Pipeline) generateVariants(ctx context.Context, f *model.MediaFile, job *model.Job) (model.JSONMap, error) {
	path, err := p.fetchOriginal(ctx, f)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	force, _ := job.Params["force"].(bool)

	report, err := p.Generator.Generate(ctx, f, path, force)
	if errors.Is(err, variant.ErrArchived) {
		return nil, ErrFileArchived
	}
	if err != nil {
		return nil, err
	}

	return model.JSONMap{
		"created": report.Created,
		"skipped": report.Skipped,
	}, nil
}

func (p *Pipeline) applyTags(ctx context.Context, f *model.MediaFile, _ *model.Job) (model.JSONMap, error) {
	applied, err := p.Tagger.Apply(ctx, f)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(applied))
	for i, c := range applied {
		names[i] = c.Name
	}

	return model.JSONMap{"tags": names}, nil
}
