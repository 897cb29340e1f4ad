package feed

import (
	"sync"

	"github.com/asaskevich/EventBus"
)

// View is an ordered, capacity-bounded container of items exposed read-only to
// observers. It is mutated only by its owning Binder, always on the Binder's
// dispatcher; observers may read from any goroutine.
type View[T any] struct {
	mu    sync.RWMutex
	items []T

	bus   EventBus.Bus
	topic string
}

func newView[T any](capacity int) *View[T] {
	return &View[T]{items: make([]T, 0, capacity)}
}

// NotifyOn publishes the view's length on the given bus topic after every mutation.
func (v *View[T]) NotifyOn(bus EventBus.Bus, topic string) *View[T] {
	v.mu.Lock()
	v.bus = bus
	v.topic = topic
	v.mu.Unlock()
	return v
}

// Len returns the number of items currently held.
func (v *View[T]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items)
}

// Snapshot returns a copy of the current items in arrival order.
func (v *View[T]) Snapshot() []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snapshot := make([]T, len(v.items))
	copy(snapshot, v.items)
	return snapshot
}

// At returns the item at index i.
func (v *View[T]) At(i int) T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.items[i]
}

func (v *View[T]) clear() {
	v.mu.Lock()
	v.items = v.items[:0]
	v.mu.Unlock()
	v.notify()
}

func (v *View[T]) append(items []T) {
	v.mu.Lock()
	v.items = append(v.items, items...)
	v.mu.Unlock()
	v.notify()
}

func (v *View[T]) removeHead(n int) {
	v.mu.Lock()
	v.items = append(v.items[:0], v.items[n:]...)
	v.mu.Unlock()
	v.notify()
}

// replaceAll rebuilds the container from the given items.
func (v *View[T]) replaceAll(items []T) {
	v.mu.Lock()
	v.items = append(v.items[:0], items...)
	v.mu.Unlock()
	v.notify()
}

// tail returns a copy of the items beyond the first n, in order.
func (v *View[T]) tail(n int) []T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	survivors := make([]T, len(v.items)-n)
	copy(survivors, v.items[n:])
	return survivors
}

func (v *View[T]) notify() {
	v.mu.RLock()
	bus, topic, length := v.bus, v.topic, len(v.items)
	v.mu.RUnlock()
	if bus != nil {
		bus.Publish(topic, length)
	}
}
