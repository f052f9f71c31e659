// Package broadcast implements a small one-producer, many-consumer fan-out
// used by the depth tracker, RSI tracker, and engine to publish
// snapshot-by-value updates to observers.
package broadcast

import (
	"log/slog"
	"sync"
)

// Bus fans out values of type T to any number of subscribers. Sends are
// non-blocking: a subscriber whose channel is full misses the value being
// published (values already queued are kept) rather than stalling the
// producer, and a warning is logged.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	logger *slog.Logger
	name   string
}

// New creates a Bus. name is used only in log lines to identify the bus.
func New[T any](logger *slog.Logger, name string) *Bus[T] {
	return &Bus[T]{
		subs:   make(map[int]chan T),
		logger: logger,
		name:   name,
	}
}

// Subscribe registers a new consumer with the given channel buffer size and
// returns the channel plus an unsubscribe function.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, buffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
}

// Publish delivers value to every current subscriber. A full subscriber
// channel has its value dropped (never blocks the publisher) and a warning
// is logged, so listener slowness never disturbs tracker state.
func (b *Bus[T]) Publish(value T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- value:
		default:
			if b.logger != nil {
				b.logger.Warn("broadcast subscriber full, dropping value", "bus", b.name, "subscriber", id)
			}
		}
	}
}

// SubscriberCount reports the current number of subscribers (diagnostics).
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
