// Package feed materializes an inbound item stream into a capacity-bounded, ordered,
// observable view. All view mutations are routed through one designated dispatcher,
// the generalized form of a UI thread.
package feed

import (
	"context"
	"errors"
	"sync"
)

// ErrDispatcherClosed is returned when posting to a closed dispatcher.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher runs actions on a designated execution context. Do returns once the
// action has finished, failed, or the wait was abandoned via ctx. Implementations
// must run the action inline when the caller is already on the execution context.
type Dispatcher interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// DispatcherFN adapts a function to the Dispatcher interface.
type DispatcherFN func(ctx context.Context, fn func(context.Context) error) error

// Do implements the Dispatcher interface.
func (d DispatcherFN) Do(ctx context.Context, fn func(context.Context) error) error { return d(ctx, fn) }

// Inline returns a dispatcher that runs actions on the calling goroutine.
func Inline() Dispatcher {
	return DispatcherFN(func(ctx context.Context, fn func(context.Context) error) error {
		return fn(ctx)
	})
}

type serialDispatcherKey struct{}

type serialTask struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// SerialDispatcher owns a single goroutine and executes all submitted actions on it,
// one at a time, in submission order.
type SerialDispatcher struct {
	tasks     chan *serialTask
	stop      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// NewSerialDispatcher instantiates and starts a new SerialDispatcher.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{
		tasks:  make(chan *serialTask),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *SerialDispatcher) run() {
	defer close(d.exited)
	for {
		select {
		case <-d.stop:
			return
		case task := <-d.tasks:
			// The waiter may have given up while the task was queued.
			if err := task.ctx.Err(); err != nil {
				task.result <- err
				continue
			}
			taskCtx := context.WithValue(task.ctx, serialDispatcherKey{}, d)
			task.result <- task.fn(taskCtx)
		}
	}
}

// Do implements the Dispatcher interface. If the caller is already executing on this
// dispatcher, fn runs inline; otherwise it is posted and awaited. Errors raised by
// fn propagate to the caller.
func (d *SerialDispatcher) Do(ctx context.Context, fn func(context.Context) error) error {
	if current, ok := ctx.Value(serialDispatcherKey{}).(*SerialDispatcher); ok && current == d {
		return fn(ctx)
	}
	task := &serialTask{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case d.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return ErrDispatcherClosed
	}
	select {
	case err := <-task.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return ErrDispatcherClosed
	}
}

// Close stops the dispatcher. It is a blocking call guaranteeing the loop has exited
// by the time it returns. Queued tasks are abandoned.
func (d *SerialDispatcher) Close() {
	d.closeOnce.Do(func() { close(d.stop) })
	<-d.exited
}
