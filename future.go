package mega

import (
	"context"
	"fmt"
)

// PanicHandler is given any panic recovered from a goroutine started by the engine.
type PanicHandler interface {
	HandlePanic(any)
}

// NoopPanicHandler drops recovered panics. The panicking computation still reports an error.
type NoopPanicHandler struct{}

func (NoopPanicHandler) HandlePanic(any) {}

// Future is the result of a computation running in its own goroutine.
type Future[T any] struct {
	resCh        chan res[T]
	cancel       context.CancelFunc
	panicHandler PanicHandler
}

type res[T any] struct {
	val T
	err error
}

// NewFuture runs fn in a new goroutine. The context given to fn is cancelled by Cancel
// or when ctx is done.
func NewFuture[T any](ctx context.Context, panicHandler PanicHandler, fn func(context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)

	job := &Future[T]{
		resCh:        make(chan res[T], 1),
		cancel:       cancel,
		panicHandler: panicHandler,
	}

	go func() {
		defer cancel()
		defer job.handlePanic()

		val, err := fn(ctx)

		job.resCh <- res[T]{val: val, err: err}
	}()

	return job
}

func (job *Future[T]) handlePanic() {
	if r := recover(); r != nil {
		job.resCh <- res[T]{err: fmt.Errorf("panic: %v", r)}

		if job.panicHandler != nil {
			job.panicHandler.HandlePanic(r)
		}
	}
}

// Get waits for the result.
func (job *Future[T]) Get() (T, error) {
	res := <-job.resCh

	return res.val, res.err
}

// Cancel asks the computation to stop and waits for it to return.
func (job *Future[T]) Cancel() {
	job.cancel()

	<-job.resCh
}
