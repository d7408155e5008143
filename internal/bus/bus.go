// Package bus is an in-process pub/sub used to fan run events out to live
// subscribers such as the WebSocket stream.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload any
}

// Subscription receives every event whose topic starts with its prefix.
type Subscription struct {
	id      int
	prefix  string
	ch      chan Event
	dropped atomic.Int64
}

func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Dropped counts events discarded because the subscriber fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) matches(topic string) bool {
	return s.prefix == "" || strings.HasPrefix(topic, s.prefix)
}

// Bus routes events by topic prefix. Publish never blocks on a subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers a subscription with DefaultBuffer capacity. An empty
// prefix matches all topics.
func (b *Bus) Subscribe(prefix string) *Subscription {
	return b.SubscribeBuffered(prefix, DefaultBuffer)
}

// SubscribeBuffered is Subscribe with an explicit channel capacity. On a
// closed bus the returned subscription's channel is already closed.
func (b *Bus) SubscribeBuffered(prefix string, size int) *Subscription {
	if size < 1 {
		size = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, prefix: prefix, ch: make(chan Event, size)}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. It is safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers to every matching subscriber. A full buffer drops the
// event for that subscriber only.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close ends every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
