// Package events implements the in-process event bus that the connection
// manager and sync coordinator use to notify their observers.
//
// Events are Go values implementing Event; the concrete type is the tag and
// carries a typed payload. Listen registers a typed handler, On registers a
// handler by event name for collaborators that only know names.
//
// Emit never blocks and never runs handlers on the caller's goroutine: events
// are queued and delivered in emission order by a single dispatcher, so a
// handler may call back into whichever component emitted the event.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bacoco/DevFlow-sub010/internal/queue"
)

// Event is implemented by every payload published on a Bus.
type Event interface {
	EventName() string
}

// Handler receives a dispatched event.
type Handler func(Event)

type listener struct {
	id   uuid.UUID
	name string // empty matches every event
	fn   Handler
}

// marker is queued by Sync and never delivered to listeners.
type marker struct{ reached chan struct{} }

func (marker) EventName() string { return "" }

// Bus is an ordered, asynchronous publish/subscribe register.
type Bus struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []listener

	pending *queue.Buffer[Event]
	done    chan struct{}
	once    sync.Once
}

// NewBus creates a bus and starts its dispatcher.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:  logger.With("component", "events"),
		pending: queue.New[Event](64),
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Emit queues ev for delivery. Events emitted after Close are dropped.
func (b *Bus) Emit(ev Event) {
	if !b.pending.Push(ev) {
		b.logger.Debug("event dropped, bus closed", "event", ev.EventName())
	}
}

// On registers fn for events whose EventName equals name.
func (b *Bus) On(name string, fn Handler) uuid.UUID {
	return b.add(name, fn)
}

// Subscribe registers fn for every event.
func (b *Bus) Subscribe(fn Handler) uuid.UUID {
	return b.add("", fn)
}

// Listen registers a handler for events of concrete type T.
func Listen[T Event](b *Bus, fn func(T)) uuid.UUID {
	return b.add("", func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}

// Off removes a listener. It reports whether the id was registered.
func (b *Bus) Off(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerCount returns the number of registered listeners.
func (b *Bus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Sync blocks until every event emitted before the call has been delivered.
// It must not be called from a handler.
func (b *Bus) Sync() {
	m := marker{reached: make(chan struct{})}
	if !b.pending.Push(m) {
		<-b.done
		return
	}
	select {
	case <-m.reached:
	case <-b.done:
	}
}

// Close stops accepting events, delivers what is already queued and stops
// the dispatcher. It must not be called from a handler.
func (b *Bus) Close() {
	b.once.Do(b.pending.Close)
	<-b.done
}

func (b *Bus) add(name string, fn Handler) uuid.UUID {
	id := uuid.New()

	b.mu.Lock()
	b.listeners = append(b.listeners, listener{id: id, name: name, fn: fn})
	b.mu.Unlock()

	return id
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for {
		ev, ok := b.pending.Pop()
		if !ok {
			return
		}
		if m, isMarker := ev.(marker); isMarker {
			close(m.reached)
			continue
		}
		b.deliver(ev)
	}
}

func (b *Bus) deliver(ev Event) {
	name := ev.EventName()

	b.mu.RLock()
	targets := make([]listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.name == "" || l.name == name {
			targets = append(targets, l)
		}
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.call(l, ev)
	}
}

func (b *Bus) call(l listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", ev.EventName(),
				"listener", l.id,
				"panic", r,
			)
		}
	}()
	l.fn(ev)
}
