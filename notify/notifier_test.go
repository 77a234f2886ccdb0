package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalReachesAllSubscribers(t *testing.T) {
	hub := NewHub()

	ch1, cancel1 := hub.Subscribe(Filter{})
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(Filter{})
	defer cancel2()

	hub.Signal("test-topic-value", 42)

	for _, ch := range []<-chan SchemaChange{ch1, ch2} {
		select {
		case change := <-ch:
			assert.Equal(t, "test-topic-value", change.Subject)
			assert.Equal(t, int64(42), change.Offset)
		case <-time.After(time.Second):
			t.Fatal("signal not delivered")
		}
	}
}

func TestSubjectFilter(t *testing.T) {
	hub := NewHub()

	matched, cancelMatched := hub.Subscribe(Filter{Subjects: []string{"wanted"}})
	defer cancelMatched()
	other, cancelOther := hub.Subscribe(Filter{Subjects: []string{"unrelated"}})
	defer cancelOther()

	hub.Signal("wanted", 1)

	select {
	case change := <-matched:
		assert.Equal(t, "wanted", change.Subject)
	case <-time.After(time.Second):
		t.Fatal("filtered signal not delivered")
	}

	select {
	case change := <-other:
		t.Fatalf("unexpected signal for %s", change.Subject)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsSignals(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe(Filter{})
	defer cancel()

	for i := 0; i < defaultSignalBufferSize*2; i++ {
		hub.Signal("test-topic-value", int64(i))
	}

	// The buffer absorbed the first window; the rest were dropped
	// without blocking the sender.
	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			assert.Equal(t, defaultSignalBufferSize, received)
			return
		}
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe(Filter{})
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Idempotent, and signalling after cancel must not panic
	cancel()
	hub.Signal("test-topic-value", 1)
}
