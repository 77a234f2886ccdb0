package notify

import (
	"sync"
	"sync/atomic"
)

// defaultSignalBufferSize is the buffer size for change signal channels.
// Sized to handle typical burst rates while keeping memory low.
// Subscribers that can't keep up will have signals dropped (non-blocking send).
const defaultSignalBufferSize = 16

// SchemaChange is emitted after the replay loop applies a record that
// touches a subject. Offset is the topic offset of the applied record.
type SchemaChange struct {
	Subject string
	Offset  int64
}

// Filter restricts which subjects a subscription receives.
// nil or empty Subjects = all subjects.
type Filter struct {
	Subjects []string
}

// subscription represents a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan SchemaChange
	closed atomic.Bool
}

// matches checks if the subject matches this subscription's filter.
func (s *subscription) matches(subject string) bool {
	if len(s.filter.Subjects) == 0 {
		return true
	}

	for _, sub := range s.filter.Subjects {
		if sub == subject {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification hub for schema change signals. The
// API layer subscribes to invalidate caches as soon as a subject changes.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new change notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends a change signal to all matching subscribers (non-blocking).
func (h *Hub) Signal(subject string, offset int64) {
	signal := SchemaChange{
		Subject: subject,
		Offset:  offset,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(subject) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- signal:
		default:
			// Buffer full, skip this subscriber
		}
	}
}

// Subscribe creates a new subscription and returns the signal channel and cancel function.
// The returned channel is buffered. If the subscriber cannot keep up with the signal rate,
// signals will be dropped silently by Signal(). The cancel function is idempotent.
func (h *Hub) Subscribe(filter Filter) (<-chan SchemaChange, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan SchemaChange, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
