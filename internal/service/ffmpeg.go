package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"bitwise74/media-api/config"
	"bitwise74/media-api/pkg/util"

	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("ffmpeg job queue full")
	ErrQueueClosed = errors.New("ffmpeg job queue closed")
)

// FFmpeg is what the pipeline needs from the runner pool. Output receives
// the process stdout and may be nil.
type FFmpeg interface {
	Run(ctx context.Context, args []string, output io.Writer) error
}

type FFmpegJob struct {
	ID     string
	FileID string
	Args   []string
	Output io.Writer
	Ctx    context.Context
	Done   chan error
}

// JobQueue bounds the number of ffmpeg processes running at once. Jobs
// are handed to a fixed set of workers over a buffered channel.
type JobQueue struct {
	jobs    chan *FFmpegJob
	quit    chan struct{}
	once    sync.Once
	running atomic.Int32
	workers int

	path    string
	useGPU  bool
	hwaccel string
}

// NewJobQueue initializes a new job queue that limits the
// max amount of jobs that can be queued at once
func NewJobQueue(cfg config.FFmpegConfig) *JobQueue {
	zap.L().Debug("Initializing job queue",
		zap.Int("max_jobs", cfg.MaxJobs),
		zap.Int("workers", cfg.Workers))

	path := cfg.Path
	if path == "" {
		path = "ffmpeg"
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &JobQueue{
		jobs:    make(chan *FFmpegJob, max(cfg.MaxJobs, 0)),
		quit:    make(chan struct{}),
		workers: workers,
		path:    path,
		useGPU:  cfg.UseGPU,
		hwaccel: cfg.HWAccel,
	}
}

func (q *JobQueue) StartWorkerPool() {
	for range q.workers {
		go q.worker()
	}
}

// Stop makes the workers exit after their current job. Queued jobs are
// answered with ErrQueueClosed.
func (q *JobQueue) Stop() {
	q.once.Do(func() { close(q.quit) })
}

// Running returns the number of jobs queued or executing
func (q *JobQueue) Running() int32 {
	return q.running.Load()
}

func (q *JobQueue) worker() {
	for {
		select {
		case <-q.quit:
			q.drain()
			return
		case job := <-q.jobs:
			q.finish(job, q.runFFmpegJob(job))
		}
	}
}

func (q *JobQueue) drain() {
	for {
		select {
		case job := <-q.jobs:
			q.finish(job, ErrQueueClosed)
		default:
			return
		}
	}
}

func (q *JobQueue) finish(job *FFmpegJob, err error) {
	job.Done <- err
	close(job.Done)

	q.running.Add(-1)

	if err != nil {
		zap.L().Error("FFmpeg job finished with an error",
			zap.String("file_id", job.FileID),
			zap.String("job_id", job.ID),
			zap.Error(err))
	} else {
		zap.L().Debug("FFmpeg job finished successfully", zap.String("job_id", job.ID))
	}
}

// Enqueue hands a job to the pool without waiting. It fails with
// ErrQueueFull when every slot is taken.
func (q *JobQueue) Enqueue(job *FFmpegJob) error {
	select {
	case <-q.quit:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job:
		q.running.Add(1)
		zap.L().Debug("New ffmpeg job enqueued", zap.Int32("enqueued", q.running.Load()), zap.String("file_id", job.FileID))
		return nil
	default:
		return ErrQueueFull
	}
}

// Run waits for a free slot, runs ffmpeg with args and blocks until it
// exits or ctx is done
func (q *JobQueue) Run(ctx context.Context, args []string, output io.Writer) error {
	job := &FFmpegJob{
		ID:     util.RandStr(8),
		Args:   args,
		Output: output,
		Ctx:    ctx,
		Done:   make(chan error, 1),
	}

	q.running.Add(1)

	select {
	case q.jobs <- job:
	case <-ctx.Done():
		q.running.Add(-1)
		return ctx.Err()
	case <-q.quit:
		q.running.Add(-1)
		return ErrQueueClosed
	}

	select {
	case err := <-job.Done:
		return err
	case <-ctx.Done():
		// The process is killed through the same context, wait for the
		// worker to release the slot
		<-job.Done
		return ctx.Err()
	}
}

// The hwaccel flag goes before the first input
func addHWAccelFlags(args []string, hwaccel string) []string {
	for i, arg := range args {
		if arg == "-i" {
			out := make([]string, 0, len(args)+2)
			out = append(out, args[:i]...)
			out = append(out, "-hwaccel", hwaccel)
			return append(out, args[i:]...)
		}
	}

	return args
}

func (q *JobQueue) runFFmpegJob(job *FFmpegJob) error {
	if len(job.Args) == 0 {
		return errors.New("no arguments provided")
	}

	if err := job.Ctx.Err(); err != nil {
		return err
	}

	args := job.Args
	if q.useGPU && q.hwaccel != "" {
		args = addHWAccelFlags(args, q.hwaccel)
	}

	cmd := exec.CommandContext(job.Ctx, q.path, args...)

	zap.L().Debug("Running FFmpeg command", zap.String("cmd", cmd.String()))

	stderrBuf := &bytes.Buffer{}
	cmd.Stderr = stderrBuf

	if job.Output != nil {
		cmd.Stdout = job.Output
	}

	if err := cmd.Run(); err != nil {
		zap.L().Error("FFmpeg failed", zap.Error(err), zap.String("stderr", stderrBuf.String()))
		return fmt.Errorf("ffmpeg failed, %w (%s)", err, lastLine(stderrBuf.String()))
	}

	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}

	return s
}
