// Package internal wires every component of the pipeline together
package internal

import (
	"context"
	"errors"
	"fmt"

	"bitwise74/media-api/aws"
	"bitwise74/media-api/cloudflare"
	"bitwise74/media-api/config"
	"bitwise74/media-api/db"
	"bitwise74/media-api/internal/ingest"
	"bitwise74/media-api/internal/jobs"
	"bitwise74/media-api/internal/metadata"
	"bitwise74/media-api/internal/moderation"
	"bitwise74/media-api/internal/search"
	"bitwise74/media-api/internal/service"
	"bitwise74/media-api/internal/similarity"
	"bitwise74/media-api/internal/storage"
	"bitwise74/media-api/internal/tagger"
	"bitwise74/media-api/internal/variant"
	"bitwise74/media-api/pkg/util"
	"bitwise74/media-api/pkg/validators"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	// Ctx lives as long as the process. Cancelled on shutdown.
	Ctx context.Context

	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Queue  *jobs.AsynqQueue

	FFmpeg    *service.JobQueue
	Prober    *service.FFprobe
	Store     storage.ObjectStore
	Gateway   *storage.Gateway
	Validator *validators.Validator

	Ingest       *ingest.Service
	Orchestrator *jobs.Orchestrator
	Workflow     *moderation.Workflow
	Tagger       *tagger.Tagger
	Search       *search.Index
	Similarity   *similarity.Engine
}

// RedisOpt is the asynq view of the redis config
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

// New opens every connection and builds the components. Close releases
// them.
func New(ctx context.Context, cfg *config.Config) (*Deps, error) {
	d := &Deps{Ctx: ctx, Config: cfg}

	conn, err := db.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}
	d.DB = conn

	d.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := d.Redis.Ping(ctx).Err(); err != nil {
		// The API still serves reads without redis, new jobs are picked
		// up by the sweeper once it is back
		zap.L().Warn("Redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	d.Store, err = objectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage, %w", err)
	}

	var purger storage.Purger
	if cfg.Cloudflare.ZoneID != "" && cfg.Cloudflare.APIToken != "" {
		purger = cloudflare.NewPurgeClient(cfg.Cloudflare.ZoneID, cfg.Cloudflare.APIToken, cfg.CDN.Timeout)
	}
	d.Gateway = storage.NewGateway(d.Store, purger, cfg.CDN.BaseURL, cfg.Storage.Timeout)

	ffCfg := cfg.FFmpeg
	if ffCfg.UseGPU && ffCfg.HWAccel == "" {
		vendor, err := util.DetectGPU()
		if err != nil {
			zap.L().Warn("GPU detection failed, encoding on the CPU", zap.Error(err))
		}
		ffCfg.HWAccel = util.HWAccelFor(vendor)
		ffCfg.UseGPU = ffCfg.HWAccel != ""
	}

	d.FFmpeg = service.NewJobQueue(ffCfg)
	d.Prober = service.NewFFprobe(cfg.FFmpeg.FFprobePath)
	d.Validator = validators.NewValidator(cfg.Limits, d.Prober)

	timeouts := jobs.DefaultTimeouts(cfg.FFmpeg.Timeout)
	d.Queue = jobs.NewAsynqQueue(RedisOpt(cfg), cfg.Queue, timeouts)
	d.Orchestrator = jobs.NewOrchestrator(conn, d.Queue, cfg.Queue.MaxAttempts)

	d.Tagger, err = tagger.New(conn, cfg.Tagger.Threshold, cfg.Tagger.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tagger, %w", err)
	}

	d.Workflow = moderation.NewWorkflow(conn)

	var classifier moderation.Classifier = moderation.NopClassifier{}
	if cfg.Classifier.URL != "" {
		classifier = moderation.NewHTTPClassifier(cfg.Classifier.URL, cfg.Classifier.APIKey, cfg.Classifier.Timeout)
	}

	pipeline := &jobs.Pipeline{
		DB:           conn,
		Storage:      d.Gateway,
		Extractor:    metadata.NewExtractor(d.Prober, d.FFmpeg),
		Generator:    variant.NewGenerator(conn, d.FFmpeg, d.Prober, d.Gateway, ffCfg.Encoder, ffCfg.Workers),
		Tagger:       d.Tagger,
		Workflow:     d.Workflow,
		Classifier:   classifier,
		Policy:       moderation.PolicyFrom(cfg.Moderation),
		SignedURLTTL: cfg.Storage.SignedURLTTL,
	}
	pipeline.Register(d.Orchestrator, timeouts)

	d.Ingest = ingest.New(conn, d.Validator, d.Gateway, d.Orchestrator, ingest.Options{
		AllowDuplicates: cfg.Dedup.AllowDuplicates,
		Scope:           cfg.Dedup.Scope,
	})

	d.Search = search.New(conn, cfg.Search.CacheTTL, cfg.Search.CacheSize)
	d.Similarity = similarity.NewEngine(conn, cfg.Similarity.MaxCandidates)

	// Cached records of the API process are dropped as soon as they change
	// here. Changes made by a separate worker process expire with the TTL.
	d.Ingest.OnChange = d.Search.Invalidate
	d.Orchestrator.OnChange = d.Search.Invalidate
	d.Workflow.OnChange = d.Search.Invalidate

	return d, nil
}

func objectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Type {
	case "s3":
		c, err := aws.NewS3(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return aws.NewStore(c), nil
	case "r2":
		c, err := cloudflare.NewR2(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return aws.NewStore(c), nil
	case "local":
		s, err := storage.NewLocalStore(cfg.Storage.LocalPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
}

// Close releases every connection, errors are joined
func (d *Deps) Close() error {
	var errs []error

	if d.FFmpeg != nil {
		d.FFmpeg.Stop()
	}

	if d.Search != nil {
		errs = append(errs, d.Search.Close())
	}

	if d.Queue != nil {
		errs = append(errs, d.Queue.Close())
	}

	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}

	if d.DB != nil {
		if sqlDB, err := d.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}

	return errors.Join(errs...)
}
