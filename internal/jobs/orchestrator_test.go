package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitwise74/media-api/db"
	"bitwise74/media-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recorder struct {
	mu    sync.Mutex
	calls []model.JobType
	errs  map[model.JobType]error
}

func (r *recorder) handler(t model.JobType) HandlerFunc {
	return func(context.Context, *model.MediaFile, *model.Job) (model.JSONMap, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		r.calls = append(r.calls, t)
		return model.JSONMap{"ran": true}, r.errs[t]
	}
}

func setup(t *testing.T, maxAttempts int) (*gorm.DB, *Orchestrator, *MemoryQueue, *recorder) {
	t.Helper()

	d, err := db.NewMemory()
	require.NoError(t, err)

	require.NoError(t, d.Create(&model.MediaFile{
		ID:         "file-1",
		Filename:   "a.jpg",
		OwnerID:    "owner-1",
		MediaClass: model.ClassImage,
	}).Error)

	q := NewMemoryQueue()
	o := NewOrchestrator(d, q, maxAttempts)

	rec := &recorder{errs: map[model.JobType]error{}}
	for _, jt := range append(model.RequiredJobs, model.JobTagging) {
		o.HandleFunc(jt, time.Minute, rec.handler(jt))
	}

	return d, o, q, rec
}

func fileStatus(t *testing.T, d *gorm.DB) model.ProcessingStatus {
	t.Helper()

	var f model.MediaFile
	require.NoError(t, d.First(&f, "id = ?", "file-1").Error)
	return f.ProcessingStatus
}

func jobStatus(t *testing.T, d *gorm.DB, jt model.JobType) model.Job {
	t.Helper()

	var j model.Job
	require.NoError(t, d.Where("file_id = ? AND type = ?", "file-1", jt).First(&j).Error)
	return j
}

func TestSubmitDispatchesIndependentJobs(t *testing.T) {
	d, o, q, _ := setup(t, 3)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, "file-1"))
	// moderation waits for the virus scan
	assert.Equal(t, 3, q.Len())

	jobs, err := o.Jobs(ctx, "file-1")
	require.NoError(t, err)
	assert.Len(t, jobs, len(model.RequiredJobs))

	// submitting twice does not duplicate rows or tasks
	require.NoError(t, o.Submit(ctx, "file-1"))
	assert.Equal(t, 3, q.Len())

	var count int64
	require.NoError(t, d.Model(&model.Job{}).Count(&count).Error)
	assert.EqualValues(t, len(model.RequiredJobs), count)
}

func TestCompletedOnlyAfterAllRequiredJobs(t *testing.T) {
	d, o, q, rec := setup(t, 3)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, "file-1"))
	assert.Equal(t, model.ProcessingPending, fileStatus(t, d))

	for i := 0; ; i++ {
		task, ok := q.Pop()
		require.True(t, ok, "queue drained before the file completed")

		require.NoError(t, o.Handle(ctx, task.Type, task.FileID))

		done := 0
		for _, jt := range model.RequiredJobs {
			if jobStatus(t, d, jt).Status == model.JobCompleted {
				done++
			}
		}

		if done < len(model.RequiredJobs) {
			assert.Equal(t, model.ProcessingProcessing, fileStatus(t, d), "after %d tasks", i+1)
			continue
		}

		assert.Equal(t, model.ProcessingCompleted, fileStatus(t, d))
		break
	}

	require.NoError(t, q.Drain(ctx, o))

	assert.Equal(t, model.JobCompleted, jobStatus(t, d, model.JobTagging).Status)
	assert.Len(t, rec.calls, 5)
	assert.Less(t, indexOf(rec.calls, model.JobVirusScan), indexOf(rec.calls, model.JobModerationScan))
	assert.Less(t, indexOf(rec.calls, model.JobMetadata), indexOf(rec.calls, model.JobTagging))

	// a redelivery of a completed job is a no-op
	require.NoError(t, o.Handle(ctx, model.JobVariants, "file-1"))
	assert.Len(t, rec.calls, 5)
	assert.Equal(t, true, jobStatus(t, d, model.JobVariants).Params["ran"])
}

func indexOf(calls []model.JobType, jt model.JobType) int {
	for i, c := range calls {
		if c == jt {
			return i
		}
	}
	return -1
}

func TestRetryThenFail(t *testing.T) {
	d, o, q, rec := setup(t, 2)
	ctx := context.Background()

	boom := errors.New("transcode failed")
	rec.errs[model.JobVariants] = boom

	require.NoError(t, o.Submit(ctx, "file-1"))

	err := o.Handle(ctx, model.JobVariants, "file-1")
	require.ErrorIs(t, err, boom)

	var failure *ProcessingJobFailure
	assert.False(t, errors.As(err, &failure))

	j := jobStatus(t, d, model.JobVariants)
	assert.Equal(t, model.JobPending, j.Status)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, "transcode failed", j.LastError)

	err = o.Handle(ctx, model.JobVariants, "file-1")
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 2, failure.Attempts)

	assert.Equal(t, model.JobFailed, jobStatus(t, d, model.JobVariants).Status)
	assert.Equal(t, model.ProcessingFailed, fileStatus(t, d))

	// other jobs still finish but do not hide the failure
	for {
		task, ok := q.Pop()
		if !ok {
			break
		}
		if task.Type == model.JobVariants {
			continue
		}
		require.NoError(t, o.Handle(ctx, task.Type, task.FileID))
	}

	assert.Equal(t, model.ProcessingFailed, fileStatus(t, d))

	// forcing the job again recovers the file
	delete(rec.errs, model.JobVariants)
	require.NoError(t, o.Enqueue(ctx, "file-1", model.JobVariants, true))
	require.NoError(t, q.Drain(ctx, o))

	assert.Equal(t, model.ProcessingCompleted, fileStatus(t, d))
}

func TestTaggingFailureKeepsFile(t *testing.T) {
	d, o, q, rec := setup(t, 1)
	ctx := context.Background()

	rec.errs[model.JobTagging] = errors.New("db hiccup")

	require.NoError(t, o.Submit(ctx, "file-1"))

	for {
		task, ok := q.Pop()
		if !ok {
			break
		}

		err := o.Handle(ctx, task.Type, task.FileID)
		if task.Type == model.JobTagging {
			var failure *ProcessingJobFailure
			require.ErrorAs(t, err, &failure)
			continue
		}
		require.NoError(t, err)
	}

	assert.Equal(t, model.JobFailed, jobStatus(t, d, model.JobTagging).Status)
	assert.Equal(t, model.ProcessingCompleted, fileStatus(t, d))
}

func TestArchivedFileCancelsJob(t *testing.T) {
	d, o, _, rec := setup(t, 3)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, "file-1"))
	require.NoError(t, d.Model(&model.MediaFile{}).Where("id = ?", "file-1").Update("archived", true).Error)

	require.NoError(t, o.Handle(ctx, model.JobMetadata, "file-1"))

	assert.Empty(t, rec.calls)
	assert.Equal(t, model.JobCancelled, jobStatus(t, d, model.JobMetadata).Status)

	require.NoError(t, o.CancelAll(ctx, "file-1"))
	for _, jt := range model.RequiredJobs {
		assert.Equal(t, model.JobCancelled, jobStatus(t, d, jt).Status)
	}
}

func TestHandlerArchivedMidway(t *testing.T) {
	d, o, _, _ := setup(t, 3)
	ctx := context.Background()

	o.HandleFunc(model.JobVariants, time.Minute, func(context.Context, *model.MediaFile, *model.Job) (model.JSONMap, error) {
		return nil, ErrFileArchived
	})

	require.NoError(t, o.Submit(ctx, "file-1"))
	require.NoError(t, o.Handle(ctx, model.JobVariants, "file-1"))

	assert.Equal(t, model.JobCancelled, jobStatus(t, d, model.JobVariants).Status)
}

func TestDeferredKeepsAttempts(t *testing.T) {
	d, o, _, _ := setup(t, 3)
	ctx := context.Background()

	o.HandleFunc(model.JobModerationScan, time.Minute, func(context.Context, *model.MediaFile, *model.Job) (model.JSONMap, error) {
		return nil, ErrDeferred
	})

	require.NoError(t, o.Submit(ctx, "file-1"))
	require.NoError(t, o.Handle(ctx, model.JobModerationScan, "file-1"))

	j := jobStatus(t, d, model.JobModerationScan)
	assert.Equal(t, model.JobPending, j.Status)
	assert.Equal(t, 0, j.Attempts)
}

func TestEnqueueCompletedIsNoop(t *testing.T) {
	_, o, q, _ := setup(t, 3)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, "file-1"))
	require.NoError(t, q.Drain(ctx, o))

	require.NoError(t, o.Enqueue(ctx, "file-1", model.JobMetadata, false))
	assert.Equal(t, 0, q.Len())

	require.NoError(t, o.Enqueue(ctx, "file-1", model.JobMetadata, true))
	assert.Equal(t, 1, q.Len())

	assert.ErrorIs(t, o.Enqueue(ctx, "file-1", "resize", false), ErrUnknownJobType)
}

func TestForcedRequiredJobReopensFile(t *testing.T) {
	d, o, q, _ := setup(t, 3)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, "file-1"))
	require.NoError(t, q.Drain(ctx, o))
	require.Equal(t, model.ProcessingCompleted, fileStatus(t, d))

	require.NoError(t, o.Enqueue(ctx, "file-1", model.JobVariants, true))
	assert.Equal(t, model.JobPending, jobStatus(t, d, model.JobVariants).Status)
	assert.Equal(t, model.ProcessingProcessing, fileStatus(t, d))

	require.NoError(t, q.Drain(ctx, o))
	assert.Equal(t, model.ProcessingCompleted, fileStatus(t, d))

	// tagging is not required, forcing it leaves the file alone
	require.NoError(t, o.Enqueue(ctx, "file-1", model.JobTagging, true))
	assert.Equal(t, model.ProcessingCompleted, fileStatus(t, d))
}

func TestConcurrentCompletionsFinishFile(t *testing.T) {
	d, o, _, _ := setup(t, 3)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, "file-1"))

	var wg sync.WaitGroup
	errs := make(chan error, len(model.RequiredJobs))
	for _, jt := range model.RequiredJobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- o.Handle(ctx, jt, "file-1")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, model.ProcessingCompleted, fileStatus(t, d))
}

func TestReconcileCompletesFinishedFiles(t *testing.T) {
	d, o, _, _ := setup(t, 3)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, "file-1"))

	n, err := o.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// every required job done but the status update got lost
	require.NoError(t, d.Model(&model.Job{}).
		Where("file_id = ?", "file-1").
		Update("status", model.JobCompleted).Error)
	require.NoError(t, d.Model(&model.MediaFile{}).
		Where("id = ?", "file-1").
		Update("processing_status", model.ProcessingProcessing).Error)

	var changed []string
	o.OnChange = func(id string) { changed = append(changed, id) }

	n, err = o.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.ProcessingCompleted, fileStatus(t, d))
	assert.Equal(t, []string{"file-1"}, changed)

	n, err = o.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// archived files are left alone
	require.NoError(t, d.Model(&model.MediaFile{}).
		Where("id = ?", "file-1").
		Updates(map[string]any{"processing_status": model.ProcessingProcessing, "archived": true}).Error)

	n, err = o.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedispatchStaleJobs(t *testing.T) {
	d, o, q, _ := setup(t, 3)
	ctx := context.Background()

	require.NoError(t, o.Submit(ctx, "file-1"))
	for q.Len() > 0 {
		q.Pop()
	}

	n, err := o.Redispatch(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, d.Model(&model.Job{}).
		Where("file_id = ?", "file-1").
		UpdateColumn("updated_at", time.Now().Add(-2*time.Hour)).Error)

	n, err = o.Redispatch(ctx, time.Hour)
	require.NoError(t, err)
	// moderation still waits for the virus scan
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, q.Len())

	// touched rows are not picked up again
	n, err = o.Redispatch(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryDelay(t *testing.T) {
	delay := RetryDelay(10*time.Second, time.Minute)

	assert.Equal(t, 10*time.Second, delay(0, nil, nil))
	assert.Equal(t, 40*time.Second, delay(2, nil, nil))
	assert.Equal(t, time.Minute, delay(3, nil, nil))
	assert.Equal(t, time.Minute, delay(60, nil, nil))
}
