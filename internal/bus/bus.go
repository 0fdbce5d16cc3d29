// Package bus is the in-process event fan-out: topic-addressed pub/sub with
// bounded per-subscriber buffers. Publish never blocks on a slow subscriber;
// a full buffer drops the event for that subscriber only.
package bus

import (
	"strings"
	"sync"
)

// Bus broadcasts events to subscribers whose topic pattern matches.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	pattern string
	ch      chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose pattern is a prefix of the
// event's topic. Non-blocking: a subscriber with a full buffer misses the event.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(string(evt.Topic), sub.pattern) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber buffer full; drop rather than back-pressure.
			}
		}
	}
}

// Subscribe returns a channel receiving events whose topic starts with
// pattern, plus an unsubscribe function. bufSize bounds the channel buffer.
// Unsubscribe is safe to call concurrently with an in-flight publish.
func (b *Bus) Subscribe(pattern Topic, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{pattern: string(pattern), ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
