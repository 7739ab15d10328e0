package jobs

import (
	"context"
	"sync"

	"bitwise74/media-api/internal/model"
)

// Queue is the boundary to the task broker. Enqueueing the same
// (type, file) twice while the first delivery is outstanding is a no-op.
type Queue interface {
	Enqueue(ctx context.Context, jobType model.JobType, fileID string, params model.JSONMap) error
}

type Task struct {
	Type   model.JobType
	FileID string
	Params model.JSONMap
}

func taskID(jobType model.JobType, fileID string) string {
	return fileID + ":" + string(jobType)
}

// MemoryQueue keeps tasks in process. Tests drive it with Pop.
type MemoryQueue struct {
	mu      sync.Mutex
	tasks   []Task
	pending map[string]bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: map[string]bool{}}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobType model.JobType, fileID string, params model.JSONMap) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := taskID(jobType, fileID)
	if q.pending[id] {
		return nil
	}

	q.pending[id] = true
	q.tasks = append(q.tasks, Task{Type: jobType, FileID: fileID, Params: params})

	return nil
}

// Pop removes the oldest task
func (q *MemoryQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}

	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	delete(q.pending, taskID(t.Type, t.FileID))

	return t, true
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

// Drain runs tasks through o until the queue is empty or a handler fails
func (q *MemoryQueue) Drain(ctx context.Context, o *Orchestrator) error {
	for {
		t, ok := q.Pop()
		if !ok {
			return nil
		}

		if err := o.Handle(ctx, t.Type, t.FileID); err != nil {
			return err
		}
	}
}
