// Package bus fans decoded protocol events out to subscribers without ever
// blocking the transport's dispatch goroutine.
package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/quizarena/syncengine/internal/protocol"
)

const defaultBuffer = 32

// Bus delivers events to each subscriber in publish order. When a
// subscriber's buffer is full the oldest queued event is evicted to make room
// (drop-oldest): state is reconciled from authoritative snapshots, so losing
// a stale intermediate event is safer than stalling decode.
type Bus struct {
	mu      sync.Mutex
	subs    map[string]chan protocol.Event
	buffer  int
	dropped map[string]int
	log     *zap.Logger
}

func New(log *zap.Logger) *Bus {
	return &Bus{
		subs:    make(map[string]chan protocol.Event),
		buffer:  defaultBuffer,
		dropped: make(map[string]int),
		log:     log,
	}
}

// Subscribe registers a subscriber under id and returns its event stream.
// Re-subscribing an existing id replaces (and closes) the old stream.
func (b *Bus) Subscribe(id string) <-chan protocol.Event {
	ch := make(chan protocol.Event, b.buffer)
	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	b.subs[id] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its stream.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()
}

// Publish hands ev to every subscriber. Never blocks.
func (b *Bus) Publish(ev protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Full: evict the oldest, then enqueue. Publish holds the only
		// sending side, so the retry cannot fail.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
		b.dropped[id]++
		b.log.Warn("subscriber buffer full, dropped oldest event",
			zap.String("subscriber", id),
			zap.Int("dropped_total", b.dropped[id]))
	}
}

// Dropped reports how many events have been evicted for a subscriber.
func (b *Bus) Dropped(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped[id]
}

// Close shuts every subscriber stream down.
func (b *Bus) Close() {
	b.mu.Lock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()
}
