package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for single-instance deployments and tests.
// Publish never blocks: a subscriber whose buffer is full has the event
// dropped, mirroring the at-most-once contract of the Redis backend.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	buffer int
	closed bool
}

type memorySub struct {
	ch   chan Event
	once sync.Once
}

// NewMemoryBus returns a MemoryBus whose per-subscriber channels buffer up to
// buffer events. A non-positive buffer falls back to a small default.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 16
	}
	return &MemoryBus{
		subs:   make(map[string]map[*memorySub]struct{}),
		buffer: buffer,
	}
}

// Publish delivers ev to every subscriber of the conversation without
// blocking. Publishing to a conversation with no subscribers succeeds.
func (b *MemoryBus) Publish(_ context.Context, conversationID string, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for s := range b.subs[conversationID] {
		select {
		case s.ch <- ev:
		default:
			// Subscriber is not draining; drop rather than stall the writer.
		}
	}
	return nil
}

// Subscribe attaches a subscriber to the conversation.
func (b *MemoryBus) Subscribe(_ context.Context, conversationID string) (*Subscription, error) {
	s := &memorySub{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return &Subscription{C: s.ch, cancel: func() {}}, nil
	}
	set, ok := b.subs[conversationID]
	if !ok {
		set = make(map[*memorySub]struct{})
		b.subs[conversationID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[conversationID]; ok {
			if _, live := set[s]; live {
				delete(set, s)
				if len(set) == 0 {
					delete(b.subs, conversationID)
				}
			}
		}
		b.mu.Unlock()
		s.once.Do(func() { close(s.ch) })
	}
	return &Subscription{C: s.ch, cancel: cancel}, nil
}

// Close detaches and closes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
	}
	b.subs = make(map[string]map[*memorySub]struct{})
	return nil
}
