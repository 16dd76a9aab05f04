package ports

import (
	"context"
	"sync/atomic"
)

// Future is the result of an asynchronous map operation.
// It completes exactly once.
type Future[T any] struct {
	done      chan struct{}
	val       T
	err       error
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Go runs fn in its own goroutine and returns its Future.
// The context passed to fn is canceled when the Future is canceled.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		v, err := fn(ctx)
		if f.cancelled.Load() {
			var zero T
			v, err = zero, ErrCancelled
		}
		f.val, f.err = v, err
		close(f.done)
	}()
	return f
}

// Completed returns an already resolved Future.
func Completed[T any](v T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v, err: err, cancel: func() {}}
	close(f.done)
	return f
}

// Done is closed once the Future has a result.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends.
// When ctx ends first, the operation keeps running; use Cancel to stop it.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel requests cancellation. It returns false if the Future already completed.
func (f *Future[T]) Cancel() bool {
	select {
	case <-f.done:
		return false
	default:
	}
	f.cancelled.Store(true)
	f.cancel()
	return true
}
