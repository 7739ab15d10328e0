// Package jobs tracks the asynchronous stages of every file and runs them
// through the task queue with retries
package jobs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"bitwise74/media-api/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDeferred puts a job back to pending without spending an attempt.
	// It is dispatched again once the job it waits on completes.
	ErrDeferred = errors.New("job deferred")

	// ErrFileArchived cancels the job
	ErrFileArchived = errors.New("file archived")

	ErrUnknownJobType = errors.New("unknown job type")
)

// ProcessingJobFailure is returned once a job ran out of attempts. The
// job and, for required jobs, the file are marked failed.
type ProcessingJobFailure struct {
	FileID   string
	Type     model.JobType
	Attempts int
	Err      error
}

func (e *ProcessingJobFailure) Error() string {
	return fmt.Sprintf("%s job for file %s failed after %d attempts, %v", e.Type, e.FileID, e.Attempts, e.Err)
}

func (e *ProcessingJobFailure) Unwrap() error {
	return e.Err
}

// HandlerFunc does the work of one job type. The returned map is merged
// into the job params and shown to the owner.
type HandlerFunc func(ctx context.Context, f *model.MediaFile, job *model.Job) (model.JSONMap, error)

type handler struct {
	fn      HandlerFunc
	timeout time.Duration
}

// waitsOn lists jobs that are only dispatched after another one completed
var waitsOn = map[model.JobType]model.JobType{
	model.JobModerationScan: model.JobVirusScan,
	model.JobTagging:        model.JobMetadata,
}

type Orchestrator struct {
	db          *gorm.DB
	queue       Queue
	maxAttempts int
	handlers    map[model.JobType]handler

	// OnChange is called after a job changed the file row
	OnChange func(fileID string)
}

func NewOrchestrator(db *gorm.DB, queue Queue, maxAttempts int) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &Orchestrator{
		db:          db,
		queue:       queue,
		maxAttempts: maxAttempts,
		handlers:    map[model.JobType]handler{},
	}
}

func (o *Orchestrator) HandleFunc(jobType model.JobType, timeout time.Duration, fn HandlerFunc) {
	o.handlers[jobType] = handler{fn: fn, timeout: timeout}
}

// Types returns the registered job types
func (o *Orchestrator) Types() []model.JobType {
	out := make([]model.JobType, 0, len(o.handlers))
	for t := range o.handlers {
		out = append(out, t)
	}

	slices.Sort(out)
	return out
}

// Submit creates the required jobs of a new file and dispatches those that
// do not wait on another job
func (o *Orchestrator) Submit(ctx context.Context, fileID string) error {
	if err := o.Track(o.db.WithContext(ctx), fileID); err != nil {
		return err
	}

	return o.Dispatch(ctx, fileID)
}

// Track creates the required job rows of a file inside tx. Rows that
// already exist are kept.
func (o *Orchestrator) Track(tx *gorm.DB, fileID string) error {
	rows := make([]model.Job, 0, len(model.RequiredJobs))
	for _, t := range model.RequiredJobs {
		rows = append(rows, model.Job{
			FileID:      fileID,
			Type:        t,
			Status:      model.JobPending,
			MaxAttempts: o.maxAttempts,
			Params:      model.JSONMap{},
		})
	}

	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to create jobs, %w", err)
	}

	return nil
}

// Dispatch queues the required jobs that do not wait on another one. A
// failed dispatch is picked up by the sweeper.
func (o *Orchestrator) Dispatch(ctx context.Context, fileID string) error {
	var errs []error
	for _, t := range model.RequiredJobs {
		if _, ok := waitsOn[t]; ok {
			continue
		}

		if err := o.dispatch(ctx, t, fileID, nil); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Enqueue makes sure a (file, type) job exists and is queued. A completed
// job is left alone unless force is set, then it runs again from scratch.
func (o *Orchestrator) Enqueue(ctx context.Context, fileID string, jobType model.JobType, force bool) error {
	if _, ok := o.handlers[jobType]; !ok {
		return fmt.Errorf("%w, %s", ErrUnknownJobType, jobType)
	}

	var job model.Job
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("file_id = ? AND type = ?", fileID, jobType).First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			job = model.Job{
				FileID:      fileID,
				Type:        jobType,
				Status:      model.JobPending,
				MaxAttempts: o.maxAttempts,
				Params:      model.JSONMap{"force": force},
			}

			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&job).Error
		}
		if err != nil {
			return err
		}

		if !force {
			return nil
		}

		job.Status = model.JobPending
		job.Attempts = 0
		job.LastError = ""
		job.FinishedAt = nil
		job.Params = job.Params.Merge(map[string]any{"force": true})

		if err := tx.Select("status", "attempts", "last_error", "finished_at", "params").Save(&job).Error; err != nil {
			return err
		}

		if !slices.Contains(model.RequiredJobs, jobType) {
			return nil
		}

		// A completed file is not complete anymore while a required job
		// runs again. A failed one stays failed until it recovers.
		return tx.Model(&model.MediaFile{}).
			Where("id = ? AND processing_status = ?", fileID, model.ProcessingCompleted).
			Update("processing_status", model.ProcessingProcessing).
			Error
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s job, %w", jobType, err)
	}

	if force {
		o.changed(fileID)
	}

	if job.Status == model.JobCompleted || job.Status == model.JobCancelled {
		return nil
	}

	ready, err := o.ready(ctx, fileID, jobType)
	if err != nil || !ready {
		return err
	}

	return o.dispatch(ctx, jobType, fileID, job.Params)
}

// ready reports whether the job a type waits on has completed
func (o *Orchestrator) ready(ctx context.Context, fileID string, jobType model.JobType) (bool, error) {
	dep, ok := waitsOn[jobType]
	if !ok {
		return true, nil
	}

	var count int64
	err := o.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("file_id = ? AND type = ? AND status = ?", fileID, dep, model.JobCompleted).
		Count(&count).
		Error
	if err != nil {
		return false, fmt.Errorf("failed to check %s job, %w", dep, err)
	}

	return count > 0, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, jobType model.JobType, fileID string, params model.JSONMap) error {
	if err := o.queue.Enqueue(ctx, jobType, fileID, params); err != nil {
		zap.L().Warn("Failed to dispatch job",
			zap.String("file_id", fileID),
			zap.String("type", string(jobType)),
			zap.Error(err))
		return err
	}

	jobsDispatched.WithLabelValues(string(jobType)).Inc()
	return nil
}

// Handle runs one delivery of a job. A returned error means the delivery
// should be retried, unless it is a *ProcessingJobFailure.
func (o *Orchestrator) Handle(ctx context.Context, jobType model.JobType, fileID string) error {
	h, ok := o.handlers[jobType]
	if !ok {
		return fmt.Errorf("%w, %s", ErrUnknownJobType, jobType)
	}

	tx := o.db.WithContext(ctx)

	var job model.Job
	if err := tx.Where("file_id = ? AND type = ?", fileID, jobType).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("Dropping delivery of untracked job", zap.String("file_id", fileID), zap.String("type", string(jobType)))
			return nil
		}
		return fmt.Errorf("failed to load job, %w", err)
	}

	if job.Status == model.JobCompleted || job.Status == model.JobCancelled {
		return nil
	}

	var f model.MediaFile
	if err := tx.Where("id = ?", fileID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return o.cancel(ctx, &job)
		}
		return fmt.Errorf("failed to load file, %w", err)
	}

	if f.Archived {
		return o.cancel(ctx, &job)
	}

	now := time.Now().UTC()
	job.Status = model.JobRunning
	job.Attempts++
	job.StartedAt = &now

	if err := tx.Select("status", "attempts", "started_at").Save(&job).Error; err != nil {
		return fmt.Errorf("failed to mark job running, %w", err)
	}

	err := tx.Model(&model.MediaFile{}).
		Where("id = ? AND processing_status = ?", fileID, model.ProcessingPending).
		Update("processing_status", model.ProcessingProcessing).
		Error
	if err != nil {
		return fmt.Errorf("failed to mark file processing, %w", err)
	}

	timeout := h.timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	params, err := h.fn(hctx, &f, &job)
	jobDuration.WithLabelValues(string(jobType)).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		return o.complete(ctx, &job, params)
	case errors.Is(err, ErrDeferred):
		return o.postpone(ctx, &job)
	case errors.Is(err, ErrFileArchived):
		return o.cancel(ctx, &job)
	}

	return o.fail(ctx, &job, err)
}

func (o *Orchestrator) complete(ctx context.Context, job *model.Job, params model.JSONMap) error {
	cancelled := false

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The file row lock orders completions of the same file, so the
		// last one sees every other completed job
		f, err := lockFile(tx, job.FileID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		job.FinishedAt = &now
		job.LastError = ""
		job.Params = job.Params.Merge(params)
		job.Status = model.JobCompleted

		if f.Archived {
			job.Status = model.JobCancelled
			cancelled = true
		}

		if err := tx.Select("status", "finished_at", "last_error", "params").Save(job).Error; err != nil {
			return fmt.Errorf("failed to complete job, %w", err)
		}

		if cancelled {
			return nil
		}

		var done int64
		err = tx.Model(&model.Job{}).
			Where("file_id = ? AND type IN ? AND status = ?", job.FileID, model.RequiredJobs, model.JobCompleted).
			Count(&done).
			Error
		if err != nil {
			return fmt.Errorf("failed to count completed jobs, %w", err)
		}

		if int(done) == len(model.RequiredJobs) {
			return tx.Model(&model.MediaFile{}).
				Where("id = ?", job.FileID).
				Update("processing_status", model.ProcessingCompleted).
				Error
		}

		// A failed file stays failed until every required job completed
		return tx.Model(&model.MediaFile{}).
			Where("id = ? AND processing_status IN ?", job.FileID, []model.ProcessingStatus{model.ProcessingPending, model.ProcessingProcessing}).
			Update("processing_status", model.ProcessingProcessing).
			Error
	})
	if err != nil {
		return err
	}

	if cancelled {
		jobsProcessed.WithLabelValues(string(job.Type), outcomeCancelled).Inc()
		return nil
	}

	jobsProcessed.WithLabelValues(string(job.Type), outcomeCompleted).Inc()

	zap.L().Info("Job completed",
		zap.String("file_id", job.FileID),
		zap.String("type", string(job.Type)),
		zap.Int("attempts", job.Attempts))

	o.changed(job.FileID)

	force, _ := job.Params["force"].(bool)
	for next, dep := range waitsOn {
		if dep != job.Type {
			continue
		}

		if _, ok := o.handlers[next]; !ok {
			continue
		}

		if err := o.Enqueue(ctx, job.FileID, next, force); err != nil {
			zap.L().Warn("Failed to enqueue follow-up job",
				zap.String("file_id", job.FileID),
				zap.String("type", string(next)),
				zap.Error(err))
		}
	}

	return nil
}

func (o *Orchestrator) fail(ctx context.Context, job *model.Job, cause error) error {
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.maxAttempts
	}

	job.LastError = cause.Error()

	if job.Attempts < maxAttempts {
		job.Status = model.JobPending

		if err := o.db.WithContext(ctx).Select("status", "last_error").Save(job).Error; err != nil {
			return fmt.Errorf("failed to record job error, %w", err)
		}

		jobsProcessed.WithLabelValues(string(job.Type), outcomeRetry).Inc()

		zap.L().Warn("Job failed, will retry",
			zap.String("file_id", job.FileID),
			zap.String("type", string(job.Type)),
			zap.Int("attempt", job.Attempts),
			zap.Error(cause))

		return fmt.Errorf("%s job attempt %d failed, %w", job.Type, job.Attempts, cause)
	}

	required := slices.Contains(model.RequiredJobs, job.Type)

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockFile(tx, job.FileID); err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Status = model.JobFailed
		job.FinishedAt = &now

		if err := tx.Select("status", "last_error", "finished_at").Save(job).Error; err != nil {
			return fmt.Errorf("failed to mark job failed, %w", err)
		}

		if !required {
			return nil
		}

		return tx.Model(&model.MediaFile{}).
			Where("id = ? AND archived = ?", job.FileID, false).
			Update("processing_status", model.ProcessingFailed).
			Error
	})
	if err != nil {
		return err
	}

	jobsProcessed.WithLabelValues(string(job.Type), outcomeFailed).Inc()

	zap.L().Error("Job failed permanently",
		zap.String("file_id", job.FileID),
		zap.String("type", string(job.Type)),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause))

	if required {
		o.changed(job.FileID)
	}

	return &ProcessingJobFailure{FileID: job.FileID, Type: job.Type, Attempts: job.Attempts, Err: cause}
}

// lockFile loads the file row of a job with a row lock held until tx ends
func lockFile(tx *gorm.DB, fileID string) (*model.MediaFile, error) {
	var f model.MediaFile

	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "archived", "processing_status").
		Where("id = ?", fileID).
		First(&f).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to load file, %w", err)
	}

	return &f, nil
}

func (o *Orchestrator) postpone(ctx context.Context, job *model.Job) error {
	job.Status = model.JobPending
	job.Attempts--

	if err := o.db.WithContext(ctx).Select("status", "attempts").Save(job).Error; err != nil {
		return fmt.Errorf("failed to defer job, %w", err)
	}

	jobsProcessed.WithLabelValues(string(job.Type), outcomeDeferred).Inc()
	return nil
}

func (o *Orchestrator) cancel(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	job.Status = model.JobCancelled
	job.FinishedAt = &now

	if err := o.db.WithContext(ctx).Select("status", "finished_at").Save(job).Error; err != nil {
		return fmt.Errorf("failed to cancel job, %w", err)
	}

	jobsProcessed.WithLabelValues(string(job.Type), outcomeCancelled).Inc()

	zap.L().Info("Job cancelled, file archived",
		zap.String("file_id", job.FileID),
		zap.String("type", string(job.Type)))

	return nil
}

// CancelAll cancels every unfinished job of a file
func (o *Orchestrator) CancelAll(ctx context.Context, fileID string) error {
	err := o.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("file_id = ? AND status IN ?", fileID, []model.JobStatus{model.JobPending, model.JobRunning}).
		Updates(map[string]any{"status": model.JobCancelled, "finished_at": time.Now().UTC()}).
		Error
	if err != nil {
		return fmt.Errorf("failed to cancel jobs, %w", err)
	}

	return nil
}

// Jobs lists the jobs of a file
func (o *Orchestrator) Jobs(ctx context.Context, fileID string) ([]model.Job, error) {
	var jobs []model.Job

	err := o.db.WithContext(ctx).Where("file_id = ?", fileID).Order("id ASC").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs, %w", err)
	}

	return jobs, nil
}

// Redispatch queues jobs again that sat in pending or running for longer
// than staleAfter. Running jobs that old lost their worker.
func (o *Orchestrator) Redispatch(ctx context.Context, staleAfter time.Duration) (int, error) {
	var stale []model.Job

	err := o.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []model.JobStatus{model.JobPending, model.JobRunning}, time.Now().Add(-staleAfter)).
		Order("updated_at ASC").
		Limit(500).
		Find(&stale).
		Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale jobs, %w", err)
	}

	n := 0
	for i := range stale {
		job := &stale[i]

		// Touch the row so the next sweep does not pick it up again right away
		job.Status = model.JobPending
		if err := o.db.WithContext(ctx).Select("status").Save(job).Error; err != nil {
			return n, fmt.Errorf("failed to reset stale job, %w", err)
		}

		ready, err := o.ready(ctx, job.FileID, job.Type)
		if err != nil {
			return n, err
		}
		if !ready {
			continue
		}

		if err := o.dispatch(ctx, job.Type, job.FileID, job.Params); err != nil {
			continue
		}

		n++
	}

	return n, nil
}

// Reconcile marks files completed whose required jobs all completed but
// whose status says otherwise
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	done := o.db.Model(&model.Job{}).
		Select("file_id").
		Where("type IN ? AND status = ?", model.RequiredJobs, model.JobCompleted).
		Group("file_id").
		Having("COUNT(*) = ?", len(model.RequiredJobs))

	var ids []string
	err := o.db.WithContext(ctx).
		Model(&model.MediaFile{}).
		Where("archived = ? AND processing_status <> ? AND id IN (?)", false, model.ProcessingCompleted, done).
		Limit(500).
		Pluck("id", &ids).
		Error
	if err != nil {
		return 0, fmt.Errorf("failed to find finished files, %w", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	res := o.db.WithContext(ctx).
		Model(&model.MediaFile{}).
		Where("id IN ? AND processing_status <> ?", ids, model.ProcessingCompleted).
		Update("processing_status", model.ProcessingCompleted)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to complete finished files, %w", res.Error)
	}

	for _, id := range ids {
		o.changed(id)
	}

	return int(res.RowsAffected), nil
}

func (o *Orchestrator) changed(fileID string) {
	if o.OnChange != nil {
		o.OnChange(fileID)
	}
}
