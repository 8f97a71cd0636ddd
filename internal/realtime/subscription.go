// ABOUTME: Subscription handle for one topic on the realtime hub
// ABOUTME: Exposes the event channel plus presence tracking and broadcast helpers

package realtime

import (
	"sync"
	"time"

	"github.com/2389/chatdesk/internal/store"
)

// Subscription is one subscriber's registration on a topic. Events arrive
// on C until Close is called or the hub shuts down, after which C is closed.
type Subscription struct {
	ID    string
	Topic string

	ch       chan Event
	lagged   chan struct{}
	hub      *Hub
	done     chan struct{}
	doneOnce sync.Once
	once     sync.Once
}

// C returns the receive side of the subscription.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Lagged is signalled after the hub dropped at least one event for this
// subscription because C was full. Consumers should reload state.
func (s *Subscription) Lagged() <-chan struct{} {
	return s.lagged
}

func (s *Subscription) markLagged() {
	select {
	case s.lagged <- struct{}{}:
	default:
	}
}

// Presence returns the topic's current presence snapshot.
func (s *Subscription) Presence() []PresenceMeta {
	return s.hub.Presence(s.Topic)
}

// Track announces this subscription's presence on the topic.
func (s *Subscription) Track(role store.SenderType, at time.Time) error {
	return s.hub.track(s, role, at)
}

// Untrack removes this subscription's presence without unsubscribing.
func (s *Subscription) Untrack() {
	s.hub.untrack(s)
}

// Broadcast publishes an ephemeral event on the subscription's topic. When
// self is false the sender does not receive its own event.
func (s *Subscription) Broadcast(ev Event, self bool) {
	exclude := s.ID
	if self {
		exclude = ""
	}
	s.hub.Publish(s.Topic, ev, exclude)
}

// Close untracks presence and unsubscribes. Safe to call multiple times;
// once it returns no further events are delivered on C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.markDone()
	})
}

func (s *Subscription) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
