package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"bitwise74/media-api/config"
	"bitwise74/media-api/internal/model"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// queueName is the asynq queue every task goes to
const queueName = "default"

type payload struct {
	FileID string        `json:"file_id"`
	Params model.JSONMap `json:"params,omitempty"`
}

// AsynqQueue delivers jobs through redis. The task id is derived from the
// job key so a job is never queued twice.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
	timeouts  map[model.JobType]time.Duration
}

func NewAsynqQueue(opt asynq.RedisConnOpt, cfg config.QueueConfig, timeouts map[model.JobType]time.Duration) *AsynqQueue {
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		maxRetry:  cfg.MaxAttempts,
		timeouts:  timeouts,
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, jobType model.JobType, fileID string, params model.JSONMap) error {
	body, err := json.Marshal(payload{FileID: fileID, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal task payload, %w", err)
	}

	id := taskID(jobType, fileID)
	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(id),
		asynq.MaxRetry(q.maxRetry),
	}

	// The orchestrator applies its own deadline, asynq gets some slack on top
	if d, ok := q.timeouts[jobType]; ok && d > 0 {
		opts = append(opts, asynq.Timeout(d+time.Minute))
	}

	task := asynq.NewTask(string(jobType), body)

	_, err = q.client.EnqueueContext(ctx, task, opts...)
	if isConflict(err) {
		cleared, cerr := q.clearArchived(id)
		if cerr != nil {
			return cerr
		}
		if !cleared {
			// Still queued or running
			return nil
		}

		_, err = q.client.EnqueueContext(ctx, task, opts...)
	}
	if err != nil && !isConflict(err) {
		return fmt.Errorf("failed to enqueue %s task, %w", jobType, err)
	}

	return nil
}

// clearArchived removes the task with id when asynq archived it. Tasks that
// ran out of retries keep their id in the archive and would block every
// later enqueue of the same job.
func (q *AsynqQueue) clearArchived(id string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(queueName, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		// Finished in the meantime
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect task %s, %w", id, err)
	}

	if info.State != asynq.TaskStateArchived {
		return false, nil
	}

	if err := q.inspector.DeleteTask(queueName, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("failed to delete archived task %s, %w", id, err)
	}

	return true, nil
}

func isConflict(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

// RetryDelay is base * 2^n capped at maxDelay
func RetryDelay(base, maxDelay time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		d := float64(base) * math.Pow(2, float64(n))
		if d <= 0 || d > float64(maxDelay) {
			return maxDelay
		}

		return time.Duration(d)
	}
}

// NewServer builds the asynq worker server and routes every job type to o
func NewServer(opt asynq.RedisConnOpt, cfg config.QueueConfig, o *Orchestrator) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    cfg.Concurrency,
		RetryDelayFunc: RetryDelay(cfg.BaseDelay, cfg.MaxDelay),
		Logger:         zap.S(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			zap.L().Warn("Task failed", zap.String("type", t.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	for _, jobType := range o.Types() {
		mux.HandleFunc(string(jobType), func(ctx context.Context, t *asynq.Task) error {
			var p payload
			if err := json.Unmarshal(t.Payload(), &p); err != nil {
				return fmt.Errorf("failed to decode task payload, %w, %w", err, asynq.SkipRetry)
			}

			err := o.Handle(ctx, jobType, p.FileID)

			var failure *ProcessingJobFailure
			if errors.As(err, &failure) {
				return fmt.Errorf("%w, %w", err, asynq.SkipRetry)
			}

			return err
		})
	}

	return srv, mux
}
