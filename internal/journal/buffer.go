package journal

import (
	"sync"

	"github.com/tradewire/accountsync/internal/connection"
)

// eventBuffer is a thread-safe ring buffer of connection events that
// doubles its capacity when it reaches 70% full, so producers never block.
type eventBuffer struct {
	mu       sync.Mutex
	buf      []connection.Event
	head     int
	tail     int
	count    int
	capacity int
	closed   bool

	enqueued int64
	dequeued int64
	resizes  int
}

func newEventBuffer(initialCapacity int) *eventBuffer {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &eventBuffer{
		buf:      make([]connection.Event, initialCapacity),
		capacity: initialCapacity,
	}
}

// Send adds an event, growing the buffer if needed. Returns false if the
// buffer is closed.
func (b *eventBuffer) Send(ev connection.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = ev
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.enqueued++
	return true
}

// TryReceive removes and returns an event without blocking.
func (b *eventBuffer) TryReceive() (connection.Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return connection.Event{}, false
	}

	ev := b.buf[b.head]
	b.buf[b.head] = connection.Event{}
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.dequeued++
	return ev, true
}

// DrainTo removes up to max events (all of them when max <= 0).
func (b *eventBuffer) DrainTo(max int) []connection.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]connection.Event, n)
	for i := 0; i < n; i++ {
		out[i] = b.buf[b.head]
		b.buf[b.head] = connection.Event{}
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.dequeued++
	}
	return out
}

// Close marks the buffer closed. Send returns false afterwards; queued
// events remain readable.
func (b *eventBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Len returns the number of queued events.
func (b *eventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity.
func (b *eventBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// bufferStats contains buffer counters.
type bufferStats struct {
	Count    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Resizes  int
}

// Stats returns buffer counters.
func (b *eventBuffer) Stats() bufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bufferStats{
		Count:    b.count,
		Capacity: b.capacity,
		Enqueued: b.enqueued,
		Dequeued: b.dequeued,
		Resizes:  b.resizes,
	}
}

// grow doubles the capacity. Must be called with the lock held.
func (b *eventBuffer) grow() {
	newCapacity := b.capacity * 2
	newBuf := make([]connection.Event, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizes++
}
