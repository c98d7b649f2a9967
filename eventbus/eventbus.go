package eventbus

import "sync"

// Listener receives the payload of an emitted event
type Listener[T any] func(payload T)

// Subscription is the handle returned by On
type Subscription interface {
	Unsubscribe()
}

// Source is the abstraction of anything that can register named-event listeners
type Source[T any] interface {
	On(name string, l Listener[T]) Subscription
}

type entry[T any] struct {
	id uint64
	fn Listener[T]
}

// Bus is an in-process named-event emitter. Listeners are called synchronously,
// in registration order, on the goroutine calling Emit.
type Bus[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]entry[T]
}

// New returns an empty Bus
func New[T any]() *Bus[T] {
	return &Bus[T]{listeners: map[string][]entry[T]{}}
}

// On implements Source
func (b *Bus[T]) On(name string, l Listener[T]) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = map[string][]entry[T]{}
	}
	b.nextID++
	b.listeners[name] = append(b.listeners[name], entry[T]{id: b.nextID, fn: l})
	return &subscription[T]{bus: b, name: name, id: b.nextID}
}

// Emit fires the named event. Listeners registered or removed while Emit is
// running are not affected until the next call.
func (b *Bus[T]) Emit(name string, payload T) {
	b.mu.RLock()
	entries := b.listeners[name]
	b.mu.RUnlock()

	for _, e := range entries {
		e.fn(payload)
	}
}

// Listeners returns the number of listeners registered for name
func (b *Bus[T]) Listeners(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[name])
}

func (b *Bus[T]) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.listeners[name]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		// copy so that a concurrent Emit keeps iterating its own snapshot
		next := make([]entry[T], 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, name)
		} else {
			b.listeners[name] = next
		}
		return
	}
}

type subscription[T any] struct {
	once sync.Once
	bus  *Bus[T]
	name string
	id   uint64
}

func (s *subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.name, s.id)
	})
}
