// Package workerpool implements the cooperative task model of spec.md
// §5: a wallet operation submitted here runs on a bounded pool rather
// than on the caller's goroutine, and returns a cancellable Future
// observing its completion.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/agentvault/vault/pkg/werr"
)

// Pool bounds how many tasks run concurrently. Submitting more than
// that many never blocks the submitter: each extra task waits for a
// slot inside its own goroutine, and the number of such waiting
// goroutines is not bounded.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New returns a Pool that runs at most size tasks concurrently.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Submit runs fn on the pool and returns a Future observing its
// result. Submit itself does not block: both acquiring a pool slot and
// running fn happen inside the dispatched goroutine, so the caller's
// goroutine returns immediately with the Future.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	fut := &Future[T]{done: make(chan struct{})}
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer close(fut.done)

		if err := p.sem.Acquire(ctx, 1); err != nil {
			fut.err = werr.Wrap(werr.KindIOError, err, "acquiring worker pool slot")
			return
		}
		defer p.sem.Release(1)

		select {
		case <-ctx.Done():
			fut.err = ctx.Err()
			return
		default:
		}

		fut.value, fut.err = fn(ctx)
	}()

	return fut
}

// Close waits for all submitted tasks to finish. It does not cancel
// running tasks — callers wanting cancellation should derive ctx from
// context.WithCancel and cancel it themselves before Close.
func (p *Pool) Close() {
	p.wg.Wait()
}

// Future observes the eventual result of a task dispatched via Submit.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Wait blocks until the task completes or ctx is cancelled, whichever
// comes first.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the task has completed without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
