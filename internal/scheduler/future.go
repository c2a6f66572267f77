package scheduler

import (
	"context"
	"sync"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
)

// Op is a unit of work run by the scheduler.
type Op[T any] func(ctx context.Context) (T, error)

// Future is the eventual result of a scheduled operation.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the operation completes or ctx is done. Abandoning the
// wait does not remove the operation from the queue; cancel the context
// passed to Schedule for that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
	}
}

// Schedule appends op to the queue and returns immediately.
func Schedule[T any](s *Scheduler, ctx context.Context, op Op[T]) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	var value T
	s.enqueue(&task{
		ctx: ctx,
		run: func(ctx context.Context) error {
			v, err := op(ctx)
			value = v
			return err
		},
		finish: func(err error) {
			f.once.Do(func() {
				if err == nil {
					f.value = value
				}
				f.err = err
				close(f.done)
			})
		},
	})
	return f
}

// Do schedules op and waits for its result.
func Do[T any](ctx context.Context, s *Scheduler, op Op[T]) (T, error) {
	return Schedule(s, ctx, op).Wait(ctx)
}
