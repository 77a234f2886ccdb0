package reader

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetWatcherProducerConsumerPairing(t *testing.T) {
	watcher := NewOffsetWatcher()

	const (
		totalOffsets = 100
		timeout      = 500 * time.Millisecond
		maxSleep     = 10 * time.Millisecond
	)

	// Random sleeps on both sides simulate races where the producer
	// observes an event before the consumer registers its wait.
	var wg sync.WaitGroup
	consumed := 0
	produced := 0

	wg.Add(1)
	go func() {
		defer wg.Done()
		for offset := int64(0); offset < totalOffsets; offset++ {
			require.True(t, watcher.WaitForOffset(offset, timeout), "offset %d must be produced", offset)
			consumed++
			time.Sleep(time.Duration(rand.Int63n(int64(maxSleep))))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for offset := int64(0); offset < totalOffsets; offset++ {
			watcher.OffsetSeen(offset)
			produced++
			time.Sleep(time.Duration(rand.Int63n(int64(maxSleep))))
		}
	}()

	wg.Wait()

	assert.Equal(t, int64(totalOffsets-1), watcher.GreatestOffset())
	assert.Equal(t, totalOffsets, produced)
	assert.Equal(t, totalOffsets, consumed)
	assert.Equal(t, 0, watcher.Waiters())
}

func TestWaitForOffsetAlreadySeen(t *testing.T) {
	watcher := NewOffsetWatcher()
	watcher.OffsetSeen(10)

	// No blocking when the offset was already applied
	assert.True(t, watcher.WaitForOffset(5, time.Nanosecond))
	assert.True(t, watcher.WaitForOffset(10, time.Nanosecond))
}

func TestWaitForOffsetTimeout(t *testing.T) {
	watcher := NewOffsetWatcher()
	watcher.OffsetSeen(10)

	start := time.Now()
	ok := watcher.WaitForOffset(11, 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, 0, watcher.Waiters())
}

func TestOffsetSeenToleratesDuplicatesAndRegressions(t *testing.T) {
	watcher := NewOffsetWatcher()

	watcher.OffsetSeen(10)
	watcher.OffsetSeen(10)
	watcher.OffsetSeen(3)

	assert.Equal(t, int64(10), watcher.GreatestOffset())
}

func TestManyWaitersOnIdenticalAndDistinctOffsets(t *testing.T) {
	watcher := NewOffsetWatcher()

	var wg sync.WaitGroup
	results := make([]bool, 6)
	targets := []int64{5, 5, 5, 7, 9, 9}

	for i, target := range targets {
		wg.Add(1)
		go func(idx int, offset int64) {
			defer wg.Done()
			results[idx] = watcher.WaitForOffset(offset, time.Second)
		}(i, target)
	}

	// Give waiters time to register
	for watcher.Waiters() < len(targets) {
		time.Sleep(time.Millisecond)
	}

	watcher.OffsetSeen(9)
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "waiter %d", i)
	}
}

func TestPartialWake(t *testing.T) {
	watcher := NewOffsetWatcher()

	var wg sync.WaitGroup
	var lowOK, highOK bool

	wg.Add(1)
	go func() {
		defer wg.Done()
		lowOK = watcher.WaitForOffset(5, time.Second)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		highOK = watcher.WaitForOffset(50, 100*time.Millisecond)
	}()

	for watcher.Waiters() < 2 {
		time.Sleep(time.Millisecond)
	}

	watcher.OffsetSeen(10)
	wg.Wait()

	assert.True(t, lowOK)
	assert.False(t, highOK)
}

func TestCloseWakesPendingWaiters(t *testing.T) {
	watcher := NewOffsetWatcher()
	watcher.OffsetSeen(3)

	done := make(chan bool, 1)
	go func() {
		done <- watcher.WaitForOffset(100, 10*time.Second)
	}()

	for watcher.Waiters() < 1 {
		time.Sleep(time.Millisecond)
	}

	watcher.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}

	// After teardown waits fail fast but history is preserved
	assert.False(t, watcher.WaitForOffset(100, time.Nanosecond))
	assert.True(t, watcher.WaitForOffset(3, time.Nanosecond))
}
