// Package events fans decoded transport and reducer events out to independent
// subscribers, and runs those deliveries on a single cooperative loop.
package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler receives one event.
type Handler[T any] func(T)

type entry[T any] struct {
	id      uint64
	handler Handler[T]
}

// Registry holds the subscribers of one event kind. A panicking handler is
// logged and skipped; the remaining handlers still receive the event.
type Registry[T any] struct {
	name   string
	logger *zap.Logger

	mu      sync.RWMutex
	nextID  uint64
	entries []entry[T]
}

// NewRegistry creates an empty registry. name is used in log lines.
func NewRegistry[T any](name string, logger *zap.Logger) *Registry[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[T]{name: name, logger: logger}
}

// Add subscribes h and returns its unsubscribe function. The returned
// function may be called any number of times, from any goroutine.
func (r *Registry[T]) Add(h Handler[T]) func() {
	if h == nil {
		return func() {}
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, entry[T]{id: id, handler: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			next := make([]entry[T], 0, len(r.entries)-1)
			next = append(next, r.entries[:i]...)
			r.entries = append(next, r.entries[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every handler subscribed at call time, in subscription
// order, and returns how many returned normally.
func (r *Registry[T]) Emit(v T) int {
	r.mu.RLock()
	snapshot := r.entries
	r.mu.RUnlock()

	delivered := 0
	for _, e := range snapshot {
		if r.call(e, v) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry[T]) call(e entry[T], v T) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("⚠️ listener panicked",
				zap.String("registry", r.name),
				zap.Uint64("listener", e.id),
				zap.String("panic", fmt.Sprint(rec)),
			)
			ok = false
		}
	}()
	e.handler(v)
	return true
}

// Len returns the number of active subscribers.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear drops every subscriber. Outstanding unsubscribe functions stay safe
// to call.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}
