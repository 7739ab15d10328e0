package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingJobs struct {
	calls      atomic.Int32
	reconciled atomic.Int32
}

func (c *countingJobs) Redispatch(context.Context, time.Duration) (int, error) {
	c.calls.Add(1)
	return 2, nil
}

func (c *countingJobs) Reconcile(context.Context) (int, error) {
	c.reconciled.Add(1)
	return 1, nil
}

type countingPurges struct{ calls atomic.Int32 }

func (c *countingPurges) RetryPurges(context.Context) int {
	c.calls.Add(1)
	return 0
}

func TestSweepStopsWithContext(t *testing.T) {
	jobs, purges := &countingJobs{}, &countingPurges{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		Sweep(ctx, 5*time.Millisecond, time.Minute, jobs, purges)
		close(done)
	}()

	assert.Eventually(t, func() bool { return jobs.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}

	assert.GreaterOrEqual(t, purges.calls.Load(), int32(2))
}

func TestSweepWithoutPurger(t *testing.T) {
	jobs := &countingJobs{}

	sweepOnce(context.Background(), time.Minute, jobs, nil)
	assert.EqualValues(t, 1, jobs.calls.Load())
	assert.EqualValues(t, 1, jobs.reconciled.Load())
}
