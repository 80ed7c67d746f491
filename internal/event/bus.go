// Package event delivers session outcome events to registered listeners.
package event

import (
	"sync"

	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/message"
)

// Listener receives outcome events
type Listener interface {
	OnEvent(evt message.Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(evt message.Event)

// OnEvent calls f(evt)
func (f ListenerFunc) OnEvent(evt message.Event) { f(evt) }

type registration struct {
	id       uint64
	listener Listener
}

// Bus fans events out to every registered listener on the broadcast
// channel of one namespace.
//
// Publish delivers to a snapshot of the listeners taken when it starts. A
// listener registered or unregistered while an event is being delivered
// may or may not observe that event.
type Bus struct {
	channel string
	log     *log.Logger

	mu        sync.RWMutex
	listeners []registration
	nextID    uint64
}

// NewBus creates a bus for namespace
func NewBus(namespace string, logger *log.Logger) *Bus {
	return &Bus{
		channel: message.BroadcastChannel(namespace),
		log:     logger,
	}
}

// Channel returns the broadcast channel identity
func (b *Bus) Channel() string {
	return b.channel
}

// Register adds l and returns a function removing it again. The returned
// function is idempotent.
func (b *Bus) Register(l Listener) (unregister func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, registration{id: id, listener: l})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, r := range b.listeners {
		if r.id == id {
			// Copy so snapshots taken by running Publish calls stay intact
			next := make([]registration, 0, len(b.listeners)-1)
			next = append(next, b.listeners[:i]...)
			next = append(next, b.listeners[i+1:]...)
			b.listeners = next
			return
		}
	}
}

// Len returns the number of registered listeners
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish delivers evt to every listener in registration order. A
// panicking listener is logged and skipped.
func (b *Bus) Publish(evt message.Event) {
	b.mu.RLock()
	snapshot := b.listeners
	b.mu.RUnlock()

	for _, r := range snapshot {
		b.deliver(r, evt)
	}
}

func (b *Bus) deliver(r registration, evt message.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("Listener %d panicked on %s event %s: %v", r.id, evt.Kind, evt.RequestID, rec)
		}
	}()
	r.listener.OnEvent(evt)
}
