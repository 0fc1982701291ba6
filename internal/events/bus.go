// Package events carries scheduler telemetry to collaborators
// (display, history persistence) over a channel-based pub-sub bus.
package events

import (
	"sync"
)

// Bus is a channel-based pub-sub event bus. Publishing never blocks:
// a subscriber that falls behind drops events rather than stalling
// the dispatch loop.
type Bus struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[string]map[int]chan Event // topic -> subscription id -> channel
	allSubs map[int]chan Event            // subscriptions to every topic
	closed  bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string]map[int]chan Event),
		allSubs: make(map[int]chan Event),
	}
}

// Subscription is a handle for detaching a subscriber.
type Subscription struct {
	C     <-chan Event
	id    int
	topic string // empty for all-topic subscriptions
	bus   *Bus
}

// Unsubscribe detaches the subscriber and closes its channel.
// Safe to call once; events published afterwards are not delivered.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.bus.closed {
		return
	}
	if s.topic == "" {
		if ch, ok := s.bus.allSubs[s.id]; ok {
			delete(s.bus.allSubs, s.id)
			close(ch)
		}
		return
	}
	if ch, ok := s.bus.subs[s.topic][s.id]; ok {
		delete(s.bus.subs[s.topic], s.id)
		close(ch)
	}
}

// Subscribe creates a subscription to a single topic. bufSize
// defaults to 256 if non-positive.
func (b *Bus) Subscribe(topic string, bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{C: ch, topic: topic, bus: b}
	if b.closed {
		close(ch)
		return sub
	}

	sub.id = b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Event)
	}
	b.subs[topic][sub.id] = ch
	return sub
}

// SubscribeAll creates a subscription receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{C: ch, bus: b}
	if b.closed {
		close(ch)
		return sub
	}

	sub.id = b.nextID
	b.nextID++
	b.allSubs[sub.id] = ch
	return sub
}

// Publish sends an event to the topic's subscribers and to every
// all-topic subscriber. Full channels drop the event.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; drop rather than block dispatch.
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts the bus and closes all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}
