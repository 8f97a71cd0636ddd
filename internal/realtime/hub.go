// ABOUTME: In-memory pub/sub hub with one logical topic per conversation
// ABOUTME: Fans out data-change, typing and presence events to topic subscribers

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chatdesk/internal/store"
)

// ErrHubClosed is returned when subscribing to or tracking on a closed hub.
var ErrHubClosed = errors.New("realtime hub closed")

// DefaultBufferSize is the channel buffer for each subscriber.
const DefaultBufferSize = 64

// Observer receives hub counters. Implemented by the metrics package.
type Observer interface {
	EventPublished(kind string)
	EventDropped(kind string)
	SubscriptionsChanged(delta int)
}

type topicState struct {
	subs     map[string]*Subscription
	presence map[string]PresenceMeta // keyed by subscription ID
}

// Hub provides in-memory pub/sub. Subscribers register for a topic and
// receive every event published to it until they close their subscription.
type Hub struct {
	mu         sync.RWMutex
	topics     map[string]*topicState
	closed     bool
	bufferSize int
	observer   Observer
	logger     *slog.Logger
}

// NewHub creates a hub. A bufferSize <= 0 uses DefaultBufferSize; pass nil
// logger for default.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		topics:     make(map[string]*topicState),
		bufferSize: bufferSize,
		logger:     logger.With("component", "realtime"),
	}
}

// SetObserver installs a counter observer. Call before the hub is in use.
func (h *Hub) SetObserver(o Observer) {
	h.observer = o
}

// Subscribe registers a subscriber on the given topic. The subscription is
// closed automatically when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	sub := &Subscription{
		ID:     uuid.New().String(),
		Topic:  topic,
		ch:     make(chan Event, h.bufferSize),
		lagged: make(chan struct{}, 1),
		hub:    h,
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	ts, ok := h.topics[topic]
	if !ok {
		ts = &topicState{
			subs:     make(map[string]*Subscription),
			presence: make(map[string]PresenceMeta),
		}
		h.topics[topic] = ts
	}
	ts.subs[sub.ID] = sub
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.SubscriptionsChanged(1)
	}
	h.logger.Debug("subscriber added", "topic", topic, "sub_id", sub.ID)

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish sends an event to all subscribers of the topic. If excludeSubID
// is non-empty that subscriber is skipped. Non-blocking: events are dropped
// for subscribers whose channels are full and those subscribers are
// signalled on Lagged.
func (h *Hub) Publish(topic string, ev Event, excludeSubID string) {
	ev.Topic = topic

	h.mu.RLock()
	defer h.mu.RUnlock()

	ts, ok := h.topics[topic]
	if !ok {
		return
	}
	h.deliverLocked(ts, ev, excludeSubID)
}

// deliverLocked sends ev to every subscriber in ts. Must be called with mu
// held (read or write); holding it keeps Close from racing the sends.
func (h *Hub) deliverLocked(ts *topicState, ev Event, excludeSubID string) {
	if h.observer != nil {
		h.observer.EventPublished(string(ev.Kind))
	}
	for id, sub := range ts.subs {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.markLagged()
			if h.observer != nil {
				h.observer.EventDropped(string(ev.Kind))
			}
			h.logger.Warn("dropped event for slow subscriber",
				"topic", ev.Topic,
				"sub_id", id,
				"kind", ev.Kind)
		}
	}
}

// Presence returns the current presence snapshot for a topic, ordered by
// OnlineAt.
func (h *Hub) Presence(topic string) []PresenceMeta {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ts, ok := h.topics[topic]
	if !ok {
		return nil
	}
	return snapshotLocked(ts)
}

func snapshotLocked(ts *topicState) []PresenceMeta {
	out := make([]PresenceMeta, 0, len(ts.presence))
	for _, meta := range ts.presence {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OnlineAt.Equal(out[j].OnlineAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].OnlineAt.Before(out[j].OnlineAt)
	})
	return out
}

// track records presence for sub and announces join followed by an
// authoritative sync to everyone on the topic.
func (h *Hub) track(sub *Subscription, role store.SenderType, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	ts, ok := h.topics[sub.Topic]
	if !ok || ts.subs[sub.ID] == nil {
		return ErrHubClosed
	}

	meta := PresenceMeta{Key: sub.ID, Role: role, OnlineAt: at}
	ts.presence[sub.ID] = meta

	h.deliverLocked(ts, Event{Kind: KindPresenceJoin, Topic: sub.Topic, Presence: &meta}, "")
	h.deliverLocked(ts, Event{Kind: KindPresenceSync, Topic: sub.Topic, Snapshot: snapshotLocked(ts)}, "")
	return nil
}

// untrackLocked removes sub's presence and announces leave + sync. Must be
// called with mu held for writing.
func (h *Hub) untrackLocked(ts *topicState, sub *Subscription) {
	meta, ok := ts.presence[sub.ID]
	if !ok {
		return
	}
	delete(ts.presence, sub.ID)

	h.deliverLocked(ts, Event{Kind: KindPresenceLeave, Topic: sub.Topic, Presence: &meta}, sub.ID)
	h.deliverLocked(ts, Event{Kind: KindPresenceSync, Topic: sub.Topic, Snapshot: snapshotLocked(ts)}, sub.ID)
}

func (h *Hub) untrack(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ts, ok := h.topics[sub.Topic]; ok {
		h.untrackLocked(ts, sub)
	}
}

// remove untracks and unregisters sub and closes its channel.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts, ok := h.topics[sub.Topic]
	if !ok {
		return
	}
	if _, exists := ts.subs[sub.ID]; !exists {
		return
	}

	h.untrackLocked(ts, sub)
	delete(ts.subs, sub.ID)
	close(sub.ch)

	if len(ts.subs) == 0 {
		delete(h.topics, sub.Topic)
	}

	if h.observer != nil {
		h.observer.SubscriptionsChanged(-1)
	}
	h.logger.Debug("subscriber removed", "topic", sub.Topic, "sub_id", sub.ID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for name, ts := range h.topics {
		for id, sub := range ts.subs {
			close(sub.ch)
			sub.markDone()
			delete(ts.subs, id)
			if h.observer != nil {
				h.observer.SubscriptionsChanged(-1)
			}
		}
		delete(h.topics, name)
	}

	h.logger.Debug("hub closed")
}
