package kvtxn

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner bounds the number of concurrently running background tasks
// (e.g. replicating flushed handles to a Clustered lock backend, or warming
// caches after commit) without requiring every caller to build its own
// worker pool.
type TaskRunner struct {
	eg          *errgroup.Group
	limiterChan chan struct{}
	ctx         context.Context
}

// NewTaskRunner creates a runner bound to ctx with at most maxThreadCount
// concurrently in-flight tasks (unbounded if maxThreadCount <= 0).
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	if maxThreadCount <= 0 {
		maxThreadCount = 1 << 20
	}
	return &TaskRunner{
		eg:          eg,
		limiterChan: make(chan struct{}, maxThreadCount),
		ctx:         ctx2,
	}
}

// GetContext returns the group's derived context, cancelled on first error.
func (tr *TaskRunner) GetContext() context.Context {
	return tr.ctx
}

// Go schedules task, blocking only if the concurrency limit has been reached.
func (tr *TaskRunner) Go(task func() error) {
	tr.limiterChan <- struct{}{}
	tr.eg.Go(func() error {
		defer func() { <-tr.limiterChan }()
		return task()
	})
}

// Wait blocks until all scheduled tasks complete, returning the first error (if any).
func (tr *TaskRunner) Wait() error {
	return tr.eg.Wait()
}
