package pubsub

import (
	"context"
	"sync"
	"time"
)

const defaultBuffer = 64

// Option configures a Broker at construction.
type Option func(*settings)

type settings struct {
	buffer int
}

// WithBuffer sets the per-subscriber channel buffer. Publishing never
// blocks; a subscriber whose buffer is full misses the event.
func WithBuffer(n int) Option {
	return func(s *settings) { s.buffer = n }
}

// Broker fans events out to any number of subscribers. Zero subscribers
// is fine; publishing is then a no-op.
type Broker[T any] struct {
	mu     sync.RWMutex
	subs   map[chan Event[T]]struct{}
	done   chan struct{}
	buffer int
}

// NewBroker creates a broker. Subscriber channels buffer 64 events
// unless WithBuffer says otherwise.
func NewBroker[T any](opts ...Option) *Broker[T] {
	s := settings{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&s)
	}
	return &Broker[T]{
		subs:   make(map[chan Event[T]]struct{}),
		done:   make(chan struct{}),
		buffer: s.buffer,
	}
}

func (b *Broker[T]) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Subscribe registers a new subscriber. Its channel closes when ctx is
// cancelled or the broker shuts down; subscribing to a closed broker
// yields an already-closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := make(chan Event[T], b.buffer)
	b.subs[sub] = struct{}{}
	go b.unsubscribeOnDone(ctx, sub)
	return sub
}

func (b *Broker[T]) unsubscribeOnDone(ctx context.Context, sub chan Event[T]) {
	<-ctx.Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed() {
		return // Close already shut every channel
	}
	delete(b.subs, sub)
	close(sub)
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return
	}

	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			// full subscriber, drop rather than block the publisher
		}
	}
}

// Close shuts down the broker and closes all subscriber channels.
// Publish and Subscribe after Close are no-ops.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		return
	}

	close(b.done)
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}
