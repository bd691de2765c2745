// Package mailbox provides an unbounded, order-preserving queue that lets
// one goroutine hand values to another without ever blocking either side.
package mailbox

import "sync"

// Mailbox is a FIFO queue. Push and Drain never block. Ready delivers a
// wake-up after a Push into an empty queue.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	ready  chan struct{}
	closed bool
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Push appends v. It reports false if the mailbox was closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.items = append(m.items, v)
	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns everything queued, oldest first.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.items
	m.items = nil
	return out
}

// Len returns the number of queued values.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Ready is signalled when values may be waiting. Consumers should Drain
// after every receive.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Close rejects further pushes. Queued values can still be drained.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}
