// Package events implements the process-wide pub/sub bus carrying log lines,
// intervention requests and resolutions, and session stat updates between the
// orchestration core and the UI layer.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"invisibrow/internal/logging"
)

// Kind identifies an event stream.
type Kind string

const (
	KindLog                  Kind = "log"
	KindVerificationNeeded   Kind = "verification_needed"
	KindVerificationResolved Kind = "verification_resolved"
	KindSessionStatsUpdated  Kind = "session:stats-updated"
)

// Event is a single bus message. Payload fields are populated per Kind.
type Event struct {
	ID        uint64    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// KindLog
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// KindVerificationNeeded / KindVerificationResolved / KindSessionStatsUpdated
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason,omitempty"`
	URL       string `json:"url,omitempty"`
}

type subscriber struct {
	id    uint64
	kinds map[Kind]bool // empty means all
	ch    chan Event
}

// Bus fans events out to subscribers. Emission never blocks: slow
// subscribers drop events once their buffer fills.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*subscriber
	nextID   uint64
	sequence atomic.Uint64
}

const subscriberBuffer = 64

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a listener for the given kinds (all kinds when none
// given). The returned cancel func removes the listener and closes the
// channel; it is safe to call more than once.
func (b *Bus) Subscribe(kinds ...Kind) (<-chan Event, func()) {
	sub := &subscriber{
		kinds: make(map[Kind]bool, len(kinds)),
		ch:    make(chan Event, subscriberBuffer),
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub.id]; ok {
				delete(b.subs, sub.id)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(ev Event) {
	ev.ID = b.sequence.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	for _, sub := range b.subs {
		if len(sub.kinds) > 0 && !sub.kinds[ev.Kind] {
			continue
		}
		select {
		case sub.ch <- ev:
		default: // drop rather than block the emitter
		}
	}
	b.mu.RUnlock()

	logging.Events("published %s (id=%d session=%s)", ev.Kind, ev.ID, ev.SessionID)
}

// Log publishes a log event at the given level.
func (b *Bus) Log(level, format string, args ...interface{}) {
	b.Publish(Event{
		Kind:    KindLog,
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}

// WaitFor blocks until an event of the given kind matching the predicate
// arrives, or the context is done. The subscription is removed on return,
// so long sessions do not accumulate listeners.
func (b *Bus) WaitFor(ctx context.Context, kind Kind, match func(Event) bool) (Event, error) {
	ch, cancel := b.Subscribe(kind)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return Event{}, context.Canceled
			}
			if match == nil || match(ev) {
				return ev, nil
			}
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
