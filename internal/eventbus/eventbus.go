// Package eventbus implements the "observer chains → explicit events"
// redesign (spec §9): components publish typed events instead of holding
// callback references to each other, and anything — the API layer, the
// registry, recording — can subscribe.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// Event is any value published on the bus. Concrete event types live in the
// packages that emit them (registry.Event, health.Event, recording.Event, ...).
type Event any

// Filter decides whether a subscriber wants a given event. A nil Filter
// accepts everything.
type Filter func(Event) bool

// Bus is a generic typed pub-sub with a ring buffer for replay, the same
// shape as the teacher's SSE event bus generalized beyond one event type.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ringMu   sync.RWMutex
	ring     []Event
	ringSize int
	ringHead int
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// New creates a bus with the given replay ring buffer size.
func New(ringSize int) *Bus {
	if ringSize < 1 {
		ringSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel and a cancel
// function. The channel is buffered; a slow subscriber drops new events
// rather than blocking publishers (see Publish).
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends e to every subscriber whose filter accepts it and records it
// in the replay ring buffer.
func (b *Bus) Publish(e Event) {
	b.ringMu.Lock()
	b.ring[b.ringHead] = e
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscribers {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			// Slow subscriber: drop rather than block the publisher. Matches
			// the non-blocking-send discipline spec §5 requires of any
			// thread that isn't the single owner of a mutation.
		}
	}
}

// Replay returns the events currently held in the ring buffer, oldest first,
// filtered by filter.
func (b *Bus) Replay(filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var out []Event
	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringSize
		e := b.ring[idx]
		if e == nil {
			continue
		}
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	return out
}

// SubscriberCount returns the current number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
