package reader

import (
	"sort"
	"sync"
	"time"
)

type offsetWaiter struct {
	offset int64
	ch     chan struct{}
}

// OffsetWatcher lets producers block until the replay goroutine has
// applied a given topic offset, giving read-your-writes on top of the
// asynchronous replay. Uses a sorted waiter list for O(k) notification
// where k = satisfied waiters.
//
// OffsetSeen is called only by the replay goroutine; WaitForOffset may be
// called concurrently from any number of goroutines.
type OffsetWatcher struct {
	mu       sync.Mutex
	greatest int64
	waiters  []offsetWaiter // Sorted by offset ascending
	closed   bool
}

func NewOffsetWatcher() *OffsetWatcher {
	return &OffsetWatcher{
		greatest: -1,
		waiters:  make([]offsetWaiter, 0),
	}
}

// OffsetSeen records that offset has been durably applied and wakes every
// waiter at or below it. Repeated or out-of-order calls are no-ops; the
// recorded offset only moves forward.
func (w *OffsetWatcher) OffsetSeen(offset int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || offset <= w.greatest {
		return
	}
	w.greatest = offset

	if len(w.waiters) == 0 {
		return
	}

	// Binary search for first waiter with offset > the applied offset
	i := sort.Search(len(w.waiters), func(i int) bool {
		return w.waiters[i].offset > offset
	})

	for j := 0; j < i; j++ {
		close(w.waiters[j].ch)
	}
	w.waiters = w.waiters[i:]
}

// GreatestOffset returns the highest applied offset, -1 before any.
func (w *OffsetWatcher) GreatestOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.greatest
}

// WaitForOffset blocks until the applied offset reaches expected or the
// timeout elapses. Returns whether the offset was reached; false means
// "not yet visible", never an error. Safe against lost wakeups: the
// predicate is checked under the lock before registering and re-checked
// on every wake path.
func (w *OffsetWatcher) WaitForOffset(expected int64, timeout time.Duration) bool {
	w.mu.Lock()
	if w.greatest >= expected {
		w.mu.Unlock()
		return true
	}
	if w.closed {
		w.mu.Unlock()
		return false
	}

	ch := make(chan struct{})

	// Insert in sorted order (binary search for position)
	i := sort.Search(len(w.waiters), func(i int) bool {
		return w.waiters[i].offset >= expected
	})
	w.waiters = append(w.waiters, offsetWaiter{})
	copy(w.waiters[i+1:], w.waiters[i:])
	w.waiters[i] = offsetWaiter{offset: expected, ch: ch}
	w.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		// Woken by OffsetSeen or by Close; re-check the predicate
		w.mu.Lock()
		ok := w.greatest >= expected
		w.mu.Unlock()
		return ok
	case <-timer.C:
		// Remove ourselves from the queue on expiry
		w.mu.Lock()
		for j, wt := range w.waiters {
			if wt.ch == ch {
				w.waiters = append(w.waiters[:j], w.waiters[j+1:]...)
				break
			}
		}
		ok := w.greatest >= expected
		w.mu.Unlock()
		return ok
	}
}

// Waiters returns the number of pending waiters (for testing/metrics).
func (w *OffsetWatcher) Waiters() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters)
}

// Close wakes all pending waiters; their waits return false unless the
// target offset was already applied. Further waits fail fast.
func (w *OffsetWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	for _, wt := range w.waiters {
		close(wt.ch)
	}
	w.waiters = nil
}
