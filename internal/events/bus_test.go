package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesMatchingSubscribers(t *testing.T) {
	bus := NewBus()
	logCh, cancelLog := bus.Subscribe(KindLog)
	defer cancelLog()
	allCh, cancelAll := bus.Subscribe()
	defer cancelAll()
	statsCh, cancelStats := bus.Subscribe(KindSessionStatsUpdated)
	defer cancelStats()

	bus.Log("info", "hello %s", "world")

	ev := <-logCh
	assert.Equal(t, KindLog, ev.Kind)
	assert.Equal(t, "hello world", ev.Message)
	assert.Equal(t, "info", ev.Level)
	assert.False(t, ev.Timestamp.IsZero())

	ev = <-allCh
	assert.Equal(t, KindLog, ev.Kind, "empty filter receives everything")

	select {
	case ev := <-statsCh:
		t.Fatalf("filtered subscriber received %v", ev.Kind)
	default:
	}
}

func TestEventIDsAreMonotonic(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(KindLog)
	defer cancel()

	for i := 0; i < 3; i++ {
		bus.Log("info", "msg %d", i)
	}
	var last uint64
	for i := 0; i < 3; i++ {
		ev := <-ch
		assert.Greater(t, ev.ID, last)
		last = ev.ID
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(KindLog)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Overflow the buffer without anyone reading.
		for i := 0; i < subscriberBuffer*3; i++ {
			bus.Log("info", "flood %d", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(KindLog)
	require.Equal(t, 1, bus.SubscriberCount())
	cancel()
	cancel() // must not panic or double-close
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestWaitForMatchesAndUnsubscribes(t *testing.T) {
	bus := NewBus()

	done := make(chan struct{})
	defer close(done)
	go func() {
		// Repeat until WaitFor has subscribed and matched.
		for {
			select {
			case <-done:
				return
			default:
			}
			bus.Publish(Event{Kind: KindVerificationResolved, SessionID: "other"})
			bus.Publish(Event{Kind: KindVerificationResolved, SessionID: "mine"})
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ev, err := bus.WaitFor(context.Background(), KindVerificationResolved, func(ev Event) bool {
		return ev.SessionID == "mine"
	})
	require.NoError(t, err)
	assert.Equal(t, "mine", ev.SessionID)
	assert.Equal(t, 0, bus.SubscriberCount(), "WaitFor must remove its subscription")
}

func TestWaitForCancellation(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bus.WaitFor(ctx, KindVerificationResolved, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, bus.SubscriberCount())
}
