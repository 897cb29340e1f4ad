package feed

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
)

// Binder consumes item sequences and republishes them into a bounded View. Arrivals
// are accumulated into batches of batchSize before the view is touched; overflow is
// evicted oldest-first, at least trimBatch items at a time once eviction triggers,
// amortizing the cost across future appends.
type Binder[T any] struct {
	view       *View[T]
	dispatcher Dispatcher

	maxItems  int
	batchSize int
	trimBatch int

	running   atomic.Bool
	mu        sync.Mutex
	lastError string
}

// NewBinder instantiates and returns a new Binder along with its View.
func NewBinder[T any](dispatcher Dispatcher, maxItems, batchSize, trimBatch int) (*Binder[T], error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher must be set")
	}
	if maxItems <= 0 {
		return nil, fmt.Errorf("maxItems must be positive, got %d", maxItems)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batchSize must be positive, got %d", batchSize)
	}
	if trimBatch <= 0 {
		return nil, fmt.Errorf("trimBatch must be positive, got %d", trimBatch)
	}
	return &Binder[T]{
		view:       newView[T](maxItems),
		dispatcher: dispatcher,
		maxItems:   maxItems,
		batchSize:  batchSize,
		trimBatch:  trimBatch,
	}, nil
}

// View returns the bound view.
func (b *Binder[T]) View() *View[T] { return b.view }

// IsRunning returns true while a sequence is being consumed.
func (b *Binder[T]) IsRunning() bool { return b.running.Load() }

// LastError returns the message of the most recent non-cancellation failure. It is
// reset when a new Bind starts.
func (b *Binder[T]) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

func (b *Binder[T]) setLastError(message string) {
	b.mu.Lock()
	b.lastError = message
	b.mu.Unlock()
}

// Bind consumes the source sequence until it ends, fails, or ctx is cancelled.
// Cancellation completes normally: no error is recorded or returned. Any other
// source failure is recorded as LastError and re-raised.
func (b *Binder[T]) Bind(ctx context.Context, source iter.Seq2[T, error], clearFirst bool) error {
	if clearFirst {
		if err := b.Clear(ctx); err != nil {
			if b.isCancellation(ctx, err) {
				return nil
			}
			return err
		}
	}

	b.setLastError("")
	b.running.Store(true)
	defer b.running.Store(false)

	batch := make([]T, 0, b.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		items := batch
		batch = make([]T, 0, b.batchSize)
		return b.dispatcher.Do(ctx, func(context.Context) error {
			b.applyBatch(items)
			return nil
		})
	}

	for item, err := range source {
		if err != nil {
			if b.isCancellation(ctx, err) {
				return nil
			}
			b.setLastError(err.Error())
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		batch = append(batch, item)
		if len(batch) >= b.batchSize {
			if err := flush(); err != nil {
				return b.flushError(ctx, err)
			}
		}
	}
	if err := flush(); err != nil {
		return b.flushError(ctx, err)
	}
	return nil
}

// Clear empties the view, on the dispatcher.
func (b *Binder[T]) Clear(ctx context.Context) error {
	return b.dispatcher.Do(ctx, func(context.Context) error {
		b.view.clear()
		return nil
	})
}

func (b *Binder[T]) isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

func (b *Binder[T]) flushError(ctx context.Context, err error) error {
	if b.isCancellation(ctx, err) {
		return nil
	}
	b.setLastError(err.Error())
	return err
}

// applyBatch mutates the view for one incoming batch. Runs on the dispatcher.
func (b *Binder[T]) applyBatch(items []T) {
	incoming := len(items)
	if incoming >= b.maxItems {
		// The batch alone fills the view: drop everything held and keep only the
		// newest maxItems elements, oldest first.
		b.view.replaceAll(items[incoming-b.maxItems:])
		return
	}

	current := b.view.Len()
	overflow := current + incoming - b.maxItems
	if overflow > 0 {
		removeCount := min(current, max(overflow, b.trimBatch))
		switch {
		case removeCount >= current:
			b.view.clear()
		case removeCount >= current/3:
			// Rebuilding from the surviving tail is cheaper than many head removals.
			b.view.replaceAll(b.view.tail(removeCount))
		default:
			b.view.removeHead(removeCount)
		}
	}
	b.view.append(items)
}
