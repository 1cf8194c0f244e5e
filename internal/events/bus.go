// Package events provides the status bus: a buffered fan-out of lifecycle
// transition events. Publishing never blocks; slow subscribers lose their
// oldest events instead of stalling the pipeline.
package events

import (
	"sync"
	"time"

	"github.com/mcphub-dev/mcphub/pkg/models"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Bus fans out StatusChange events to all subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan models.StatusChange
	nextID      int
	bufferSize  int
	closed      bool
}

// NewBus creates a bus with the given per-subscriber buffer size; zero or
// negative means DefaultBufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subscribers: make(map[int]chan models.StatusChange),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan models.StatusChange, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan models.StatusChange)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan models.StatusChange, b.bufferSize)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking. When a
// subscriber's buffer is full its oldest event is dropped to make room.
func (b *Bus) Publish(ev models.StatusChange) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		for {
			select {
			case ch <- ev:
			default:
				// Buffer full: drop the oldest event and retry once. The
				// second attempt can only fail if another producer filled
				// the freed slot, in which case the loop repeats.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
