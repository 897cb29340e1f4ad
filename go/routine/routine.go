package routine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PermanentError is a permanent error that causes a routine to exit immediately.
type PermanentError struct{ Err error }

// Error implements the error interface.
func (e *PermanentError) Error() string { return fmt.Sprintf("permanent error: %v", e.Err) }

// Is is used by errors.Is() to match correctly.
func (e *PermanentError) Is(err error) bool {
	_, ok := err.(*PermanentError)
	return ok
}

// NewPermanentError instantiates and returns a new permanent error.
func NewPermanentError(message string, args ...any) *PermanentError {
	return &PermanentError{Err: fmt.Errorf(message, args...)}
}

// FN is a routine function.
type FN func(context.Context) error

// Routine is a wrapper around some function that needs to be executed in a loop in a go routine.
type Routine struct {
	log *slog.Logger

	name             string
	fn               FN
	onPermanentError func(error)
	exited           chan struct{}
	closeOnce        sync.Once
	cancel           context.CancelFunc
	retryChannel     chan struct{}

	ticker          *time.Ticker
	signal          <-chan struct{}
	constantBackOff *backoff.ConstantBackOff
	errorCounter    prometheus.Counter
}

// New instantiates and returns a new Routine.
func New(name string, fn FN, onPermanentError func(error)) *Routine {
	return &Routine{
		log:              slog.Default(),
		name:             name,
		fn:               fn,
		onPermanentError: onPermanentError,
		exited:           make(chan struct{}),
		retryChannel:     make(chan struct{}, 1), // non-blocking writes.
	}
}

// WithLogger sets the logger of this routine.
func (r *Routine) WithLogger(logger *slog.Logger) *Routine {
	r.log = logger
	return r
}

// WithTicker sets a ticker interval at which the fn will be executed.
func (r *Routine) WithTicker(duration time.Duration) *Routine {
	if r.ticker != nil {
		panic("WithTicker called twice")
	}
	r.ticker = time.NewTicker(duration)
	return r
}

// WithSignal allows a signal to trigger a run of the routine function.
func (r *Routine) WithSignal(channel <-chan struct{}) *Routine {
	r.signal = channel
	return r
}

// WithConstantBackOff adds a constant backoff every time a non permanent error is encountered.
func (r *Routine) WithConstantBackOff(duration time.Duration) *Routine {
	r.constantBackOff = backoff.NewConstantBackOff(duration)
	return r
}

// WithErrorCounter sets a routine to measure number of errors.
func (r *Routine) WithErrorCounter(name string) *Routine {
	r.errorCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: name,
			Help: "Errors returned from routine",
		},
	)
	return r
}

// Start the routine. Non-blocking call.
func (r *Routine) Start(ctx context.Context) *Routine {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.log = r.log.With("routine", r.name)
	r.log.InfoContext(ctx, "started routine")

	go func() {
		defer close(r.exited)
		for {
			if err := r.execute(ctx); err != nil {
				select {
				case <-ctx.Done():
					r.log.InfoContext(ctx, "context done", "error", ctx.Err())
					return
				default:
				}

				if errors.Is(err, &PermanentError{}) {
					r.log.ErrorContext(ctx, "exiting due to permanent error", "error", err)
					if r.onPermanentError != nil {
						r.onPermanentError(err)
					}
					return
				}
				r.log.ErrorContext(ctx, "executing fn", "error", err)
				if r.constantBackOff != nil {
					time.Sleep(r.constantBackOff.NextBackOff())
				}
				// Add a retry signal.
				select {
				case r.retryChannel <- struct{}{}:
				default:
				}
			}

			if err := r.await(ctx); err != nil {
				r.log.InfoContext(ctx, "context done", "error", err)
				return
			}
		}
	}()
	return r
}

// await blocks until the next execution is due, or the context is done.
func (r *Routine) await(ctx context.Context) error {
	var tick <-chan time.Time
	if r.ticker != nil {
		tick = r.ticker.C
	}
	if tick == nil && r.signal == nil {
		// No pacing configured: run back to back, only yielding to cancellation.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tick:
	case <-r.signal:
	case <-r.retryChannel:
		r.log.DebugContext(ctx, "retrying")
	}
	return nil
}

// Close closes this routine. It is a blocking call guaranteeing that the routine has
// exited its loop by the time it returns.
func (r *Routine) Close() {
	r.closeOnce.Do(func() {
		r.log.Info("closing")
		r.cancel()
		<-r.exited
		if r.ticker != nil {
			r.ticker.Stop()
		}
		r.log.Info("closed")
	})
}

func (r *Routine) execute(ctx context.Context) error {
	err := r.fn(ctx)
	if r.errorCounter != nil && err != nil {
		r.errorCounter.Inc()
	}
	return err
}

// CloseInParallelFN returns a function that closes routines in parallel and blocks
// until all routines have exited their loop.
func CloseInParallelFN(routines []*Routine) func() {
	return func() {
		wg := sync.WaitGroup{}
		wg.Add(len(routines))
		for _, r := range routines {
			go func() { r.Close(); wg.Done() }()
		}
		wg.Wait()
	}
}
