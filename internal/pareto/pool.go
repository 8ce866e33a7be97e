package pareto

import (
	"context"
	"sync"
	"time"
)

// taskOutcome is the tagged per-task result: either a Solution or the error
// that killed the task. A failed task never aborts its siblings.
type taskOutcome struct {
	index    int
	solution Solution
	err      error
}

// workerPool runs submitted closures on a fixed set of goroutines sharing the
// read-only leadfield. There is no cross-worker synchronization; each task's
// result flows back to the coordinator exactly once through its own channel.
type workerPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func(context.Context)
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// newWorkerPool starts workers goroutines. queue bounds the task channel and
// must cover all submissions so dispatch never blocks the coordinator.
func newWorkerPool(parent context.Context, workers, queue int) *workerPool {
	ctx, cancel := context.WithCancel(parent)
	p := &workerPool{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(chan func(context.Context), queue),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}
			fn(p.ctx)
		}
	}
}

// submit enqueues a task. The queue is sized at construction to hold every
// task, so this does not block.
func (p *workerPool) submit(fn func(context.Context)) {
	p.tasks <- fn
}

// terminate cancels in-flight work and waits up to join for the workers to
// exit. Tasks observe the cancellation at their next context check; a task
// that ignores it is abandoned after the join bound rather than waited on
// forever. Safe to call more than once.
func (p *workerPool) terminate(join time.Duration) {
	p.closeOnce.Do(func() {
		p.cancel()
		close(p.tasks)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(join):
	}
}
