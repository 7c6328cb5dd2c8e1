// Package eventbus implements the in-process publish/subscribe fabric for
// admin SSE (C5). It follows the "weak back-reference" design note in §9:
// the bus owns a set of subscriber queues; a subscriber only holds a read
// handle to its own queue. On overflow the bus evicts the queue from its
// set and the subscriber — reading from a now-abandoned channel — observes
// its Done channel closed and exits. No cyclic ownership.
package eventbus

import (
	"sync"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
)

const (
	// defaultQueueSize is the bounded per-subscriber queue depth, per §4.11.
	defaultQueueSize = 100
	// defaultMaxSubscribers is the hard subscriber cap, per §4.11.
	defaultMaxSubscribers = 50
)

// Bus is the in-process SSE event fabric.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	queueSize   int
	maxSubs     int
}

// Subscription is a subscriber's read handle. Events arrive on C; when the
// bus evicts this subscription (queue overflow) it closes Done.
type Subscription struct {
	C    <-chan domain.ServerEvent
	Done <-chan struct{}

	c    chan domain.ServerEvent
	done chan struct{}
}

// New constructs an EventBus with the default queue size and subscriber
// cap.
func New() *Bus {
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		queueSize:   defaultQueueSize,
		maxSubs:     defaultMaxSubscribers,
	}
}

// Subscribe registers a new subscriber and returns its read handle, or ok=false
// if the hard subscriber cap has been reached.
func (b *Bus) Subscribe() (*Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= b.maxSubs {
		return nil, false
	}

	ch := make(chan domain.ServerEvent, b.queueSize)
	done := make(chan struct{})
	sub := &Subscription{C: ch, Done: done, c: ch, done: done}
	b.subscribers[sub] = struct{}{}
	return sub, true
}

// Unsubscribe removes a subscription, for a client disconnecting cleanly.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// removeLocked closes Done and removes sub from the subscriber set. Caller
// must hold b.mu. Safe to call more than once.
func (b *Bus) removeLocked(sub *Subscription) {
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.done)
}

// Publish delivers an event to every current subscriber via a non-blocking
// put. Iteration is over a snapshot of the subscriber set, so mutation
// during iteration (a subscriber added or evicted concurrently) is safe. A
// subscriber whose queue is full is evicted — its delivery failure does not
// affect any other subscriber.
func (b *Bus) Publish(eventType string, data map[string]any) {
	evt := domain.ServerEvent{Type: eventType, Data: data, Timestamp: time.Now()}

	b.mu.Lock()
	snapshot := make([]*Subscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case sub.c <- evt:
		default:
			b.mu.Lock()
			b.removeLocked(sub)
			b.mu.Unlock()
		}
	}
}

// SubscriberCount reports the current number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
