package pareto

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPoolRunsAllTasks(t *testing.T) {
	pool := newWorkerPool(context.Background(), 3, 10)

	var ran int64
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		pool.submit(func(context.Context) {
			atomic.AddInt64(&ran, 1)
			done <- struct{}{}
		})
	}
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("task did not complete")
		}
	}
	pool.terminate(time.Second)

	assert.Equal(t, int64(10), atomic.LoadInt64(&ran))
}

func TestWorkerPoolTerminateCancelsTasks(t *testing.T) {
	pool := newWorkerPool(context.Background(), 1, 2)

	observed := make(chan error, 1)
	started := make(chan struct{})
	pool.submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		observed <- ctx.Err()
	})
	<-started

	pool.terminate(time.Second)

	select {
	case err := <-observed:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("task never observed cancellation")
	}
}

func TestWorkerPoolTerminateIdempotent(t *testing.T) {
	pool := newWorkerPool(context.Background(), 2, 1)

	pool.terminate(time.Second)
	// A second terminate must not panic on the closed channel.
	pool.terminate(time.Second)
}

func TestWorkerPoolTerminateBoundedJoin(t *testing.T) {
	pool := newWorkerPool(context.Background(), 1, 2)

	release := make(chan struct{})
	pool.submit(func(context.Context) { <-release })

	start := time.Now()
	pool.terminate(50 * time.Millisecond)
	assert.Less(t, time.Since(start), time.Second,
		"terminate must give up on a stuck task after the join bound")
	close(release)
}
