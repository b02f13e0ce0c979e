package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// registry is a set of handlers for one event stream. Dispatch works on a
// snapshot so handlers may add or remove registrations while running.
type registry[E any] struct {
	kind string
	log  *zap.Logger

	mu       sync.RWMutex
	next     uint64
	handlers map[uint64]func(E)
}

func newRegistry[E any](kind string, log *zap.Logger) *registry[E] {
	return &registry[E]{kind: kind, log: log, handlers: make(map[uint64]func(E))}
}

func (r *registry[E]) add(h func(E)) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.handlers[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}
}

func (r *registry[E]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

func (r *registry[E]) clear() {
	r.mu.Lock()
	r.handlers = make(map[uint64]func(E))
	r.mu.Unlock()
}

func (r *registry[E]) dispatch(ev E) {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.handlers))
	hs := make([]func(E), 0, len(r.handlers))
	for id, h := range r.handlers {
		ids = append(ids, id)
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	for i, h := range hs {
		// a handler removed by an earlier one in this round must not fire
		if !r.registered(ids[i]) {
			continue
		}
		r.invoke(h, ev)
	}
}

func (r *registry[E]) registered(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[id]
	return ok
}

func (r *registry[E]) invoke(h func(E), ev E) {
	defer func() {
		if p := recover(); p != nil {
			handlerPanics.WithLabelValues(r.kind).Inc()
			r.log.Error("event handler panicked", zap.String("kind", r.kind), zap.Any("panic", p))
		}
	}()
	h(ev)
}
