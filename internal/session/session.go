// ABOUTME: Conversation session binding one viewer to one conversation topic
// ABOUTME: Keeps a deduplicated ordered message list plus presence and typing flags

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/presence"
	"github.com/2389/chatdesk/internal/realtime"
	"github.com/2389/chatdesk/internal/receipt"
	"github.com/2389/chatdesk/internal/store"
	"github.com/2389/chatdesk/internal/typing"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Service is the message-persistence API a session consumes.
type Service interface {
	Authorize(ctx context.Context, conversationID string, p conversation.Participant) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)
	SendMessage(ctx context.Context, conversationID string, p conversation.Participant, text string) (*store.Message, error)
	MarkRead(ctx context.Context, ids []string, reader store.SenderType) ([]*store.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string, reader store.SenderType) ([]*store.Message, error)
}

// Hub is the transport a session subscribes to.
type Hub interface {
	Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error)
}

// Observer receives session lifecycle counts. Implemented by the metrics package.
type Observer interface {
	SessionOpened(role string)
	SessionClosed(role string)
}

// Config holds everything a session needs. Participant is required; the
// session never looks identity up from anywhere else.
type Config struct {
	Service     Service
	Hub         Hub
	Participant conversation.Participant

	TypingQuiet  time.Duration
	TypingExpiry time.Duration
	ReadDelay    time.Duration
	UpdateBuffer int

	Logger   *slog.Logger
	Observer Observer
}

// SendError is returned when a message could not be sent. Text is the
// user's original input so the caller can restore the compose box.
type SendError struct {
	Text string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Pending is a local echo of a message that failed to send for a
// non-validation reason. It is retried before the next explicit send.
type Pending struct {
	LocalID   string
	Text      string
	CreatedAt time.Time
}

// View is a point-in-time copy of session state.
type View struct {
	ConversationID string
	Role           store.SenderType
	Messages       []*store.Message
	Pending        []Pending
	OtherOnline    bool
	OtherTyping    bool
	Degraded       bool
}

// UpdateKind tags what changed in an Update.
type UpdateKind string

const (
	UpdateMessage        UpdateKind = "message"
	UpdateMessageUpdated UpdateKind = "message_updated"
	UpdatePresence       UpdateKind = "presence"
	UpdateTyping         UpdateKind = "typing"
	UpdateDegraded       UpdateKind = "degraded"
)

// Update is pushed to watchers whenever visible state changes.
type Update struct {
	Kind    UpdateKind
	Message *store.Message
	Online  bool
	Typing  bool
}

// Session binds one conversation to one topic subscription for one viewer.
//
// Lock order: component locks (debouncer, indicator, marker) may be held
// while s.mu is taken, never the reverse.
type Session struct {
	conversationID string
	participant    conversation.Participant
	svc            Service
	sub            *realtime.Subscription

	debouncer *typing.Debouncer
	indicator *typing.Indicator
	marker    *receipt.Marker
	tracker   *presence.Tracker

	mu        sync.Mutex
	messages  []*store.Message
	index     map[string]int
	pending   []Pending
	online    bool
	degraded  bool
	closed    bool
	watchers  map[int]chan Update
	nextWatch int
	bufSize   int

	sendMu    sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	observer Observer
	logger   *slog.Logger
}

// Open authorizes the participant, subscribes to the conversation topic,
// loads existing messages and starts processing events.
//
// The subscription is made before the initial load so nothing published
// in between is lost; overlap is removed by dedup-by-id. A subscribe
// failure does not fail Open: the session is marked degraded instead.
func Open(ctx context.Context, cfg Config, conversationID string) (*Session, error) {
	if cfg.Service == nil {
		return nil, errors.New("session: service is required")
	}
	if !cfg.Participant.Role.Valid() {
		return nil, conversation.ErrInvalidConversation
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session",
		"conversation_id", conversationID,
		"role", cfg.Participant.Role)

	conv, err := cfg.Service.Authorize(ctx, conversationID, cfg.Participant)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conversationID: conversationID,
		participant:    cfg.Participant,
		svc:            cfg.Service,
		index:          make(map[string]int),
		watchers:       make(map[int]chan Update),
		bufSize:        cfg.UpdateBuffer,
		ctx:            sessCtx,
		cancel:         cancel,
		observer:       cfg.Observer,
		logger:         logger,
	}
	if s.bufSize <= 0 {
		s.bufSize = 64
	}

	if cfg.Hub != nil {
		sub, err := cfg.Hub.Subscribe(sessCtx, realtime.ConversationTopic(conversationID))
		if err != nil {
			logger.Warn("subscribe failed, session degraded", "error", err)
			s.degraded = true
		} else {
			s.sub = sub
		}
	} else {
		s.degraded = true
	}

	initial, err := cfg.Service.ListMessages(ctx, conversationID)
	if err != nil {
		cancel()
		if s.sub != nil {
			s.sub.Close()
		}
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	for _, msg := range initial {
		s.insertLocked(msg.Clone())
	}

	role := cfg.Participant.Role
	s.tracker = presence.NewTracker()
	s.debouncer = typing.NewDebouncer(cfg.TypingQuiet, s.broadcastTyping)
	s.indicator = typing.NewIndicator(role, cfg.TypingExpiry, func(on bool) {
		s.emit(Update{Kind: UpdateTyping, Typing: on})
	})
	s.marker = receipt.NewMarker(cfg.Service, conversationID, role, cfg.ReadDelay, logger)

	if s.sub != nil {
		s.wg.Add(1)
		go s.run(s.sub)

		if err := s.sub.Track(role, time.Now()); err != nil {
			logger.Warn("presence track failed, session degraded", "error", err)
			s.setDegraded()
		}
	}

	if conv.UnreadFor(role) > 0 {
		s.marker.MarkAll()
	}

	if s.observer != nil {
		s.observer.SessionOpened(string(role))
	}
	logger.Debug("session opened", "messages", len(initial), "degraded", s.Degraded())
	return s, nil
}

// ConversationID returns the conversation this session is bound to.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Participant returns the viewer identity the session was opened with.
func (s *Session) Participant() conversation.Participant {
	return s.participant
}

// Watch returns a channel of updates and a func that stops watching. The
// channel is closed when the session closes. Slow watchers miss updates
// rather than block the session; View always has the full state.
func (s *Session) Watch() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Update, s.bufSize)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

// View returns a copy of the current state.
func (s *Session) View() View {
	typingNow := s.indicator.Typing()

	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ConversationID: s.conversationID,
		Role:           s.participant.Role,
		Messages:       make([]*store.Message, len(s.messages)),
		Pending:        append([]Pending(nil), s.pending...),
		OtherOnline:    s.online,
		OtherTyping:    typingNow,
		Degraded:       s.degraded,
	}
	for i, msg := range s.messages {
		v.Messages[i] = msg.Clone()
	}
	return v
}

// Messages returns a copy of the ordered message list.
func (s *Session) Messages() []*store.Message {
	return s.View().Messages
}

// Degraded reports whether the transport is unavailable.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// SendMessage sends text as the session participant. Pending local echoes
// from earlier failures are retried first, in order. On failure the
// returned *SendError carries the original text. Validation failures are
// not kept; other failures leave a pending local echo.
func (s *Session) SendMessage(ctx context.Context, text string) (*store.Message, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.isClosed() {
		return nil, &SendError{Text: text, Err: ErrClosed}
	}
	s.debouncer.Done()

	if err := s.retryPending(ctx); err != nil {
		s.addPending(text)
		return nil, &SendError{Text: text, Err: err}
	}

	msg, err := s.svc.SendMessage(ctx, s.conversationID, s.participant, text)
	if err != nil {
		if !errors.Is(err, conversation.ErrValidation) {
			s.addPending(text)
		}
		s.logger.Warn("send failed", "error", err)
		return nil, &SendError{Text: text, Err: err}
	}

	s.onMessageInserted(msg)
	return msg.Clone(), nil
}

// NotifyTyping records a keystroke from the viewer.
func (s *Session) NotifyTyping() {
	s.debouncer.Keystroke()
}

// MarkAllRead marks every unread message from the other role. Runs in the
// background.
func (s *Session) MarkAllRead() {
	s.marker.MarkAll()
}

// Close unsubscribes, cancels timers and releases presence. After it
// returns no timer fires and no event handler runs. Safe to call
// multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		// End any typing burst so the other side clears without waiting
		// for its expiry.
		s.debouncer.Done()
		s.debouncer.Stop()

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		if s.sub != nil {
			s.sub.Close()
		}
		s.wg.Wait()

		s.indicator.Stop()
		s.marker.Stop()

		s.mu.Lock()
		for id, w := range s.watchers {
			close(w)
			delete(s.watchers, id)
		}
		s.mu.Unlock()

		if s.observer != nil {
			s.observer.SessionClosed(string(s.participant.Role))
		}
		s.logger.Debug("session closed")
	})
}

func (s *Session) run(sub *realtime.Subscription) {
	defer s.wg.Done()
	events := sub.C()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-sub.Lagged():
			s.resync()
		case ev, ok := <-events:
			if !ok {
				if s.ctx.Err() == nil {
					s.logger.Warn("subscription ended, session degraded")
					s.setDegraded()
				}
				return
			}
			s.handle(ev)
		}
	}
}

// resync reloads messages and presence after the hub dropped events for
// this session. Loaded rows merge through the same dedup path as events.
func (s *Session) resync() {
	s.logger.Warn("subscription lagged, resyncing")

	msgs, err := s.svc.ListMessages(s.ctx, s.conversationID)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn("resync failed, session degraded", "error", err)
			s.setDegraded()
		}
		return
	}
	for _, msg := range msgs {
		s.mu.Lock()
		i, known := s.index[msg.ID]
		readChanged := known && s.messages[i].ReadAt == nil && msg.ReadAt != nil
		s.mu.Unlock()

		switch {
		case !known:
			s.onMessageInserted(msg)
		case readChanged:
			s.onMessageUpdated(msg)
		}
	}

	s.tracker.Apply(realtime.Event{Kind: realtime.KindPresenceSync, Snapshot: s.sub.Presence()})
	s.refreshPresence()
}

func (s *Session) handle(ev realtime.Event) {
	switch ev.Kind {
	case realtime.KindMessageInserted:
		if ev.Message != nil {
			s.onMessageInserted(ev.Message)
		}
	case realtime.KindMessageUpdated:
		if ev.Message != nil {
			s.onMessageUpdated(ev.Message)
		}
	case realtime.KindTyping:
		if ev.Typing != nil {
			s.indicator.Observe(ev.Typing.Role, ev.Typing.IsTyping)
		}
	case realtime.KindPresenceSync, realtime.KindPresenceJoin, realtime.KindPresenceLeave:
		s.tracker.Apply(ev)
		s.refreshPresence()
	}
}

// onMessageInserted adds msg unless its id is already known.
func (s *Session) onMessageInserted(msg *store.Message) {
	if msg.ConversationID != s.conversationID {
		return
	}
	msg = msg.Clone()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, known := s.index[msg.ID]; known {
		s.mu.Unlock()
		return
	}
	s.insertLocked(msg)
	s.mu.Unlock()

	if msg.SenderType != s.participant.Role {
		s.indicator.Clear()
		s.marker.Schedule(msg)
	}
	s.emit(Update{Kind: UpdateMessage, Message: msg.Clone()})
}

// onMessageUpdated replaces a known message. Unknown ids are dropped; the
// message's own insert event carries its current read_at.
func (s *Session) onMessageUpdated(msg *store.Message) {
	s.mu.Lock()
	i, known := s.index[msg.ID]
	if !known || s.closed {
		s.mu.Unlock()
		return
	}
	next := msg.Clone()
	if next.ReadAt == nil {
		next.ReadAt = s.messages[i].ReadAt
	}
	s.messages[i] = next
	s.mu.Unlock()

	s.emit(Update{Kind: UpdateMessageUpdated, Message: next.Clone()})
}

// insertLocked places msg by created_at, then id. Must hold s.mu.
func (s *Session) insertLocked(msg *store.Message) {
	i := sort.Search(len(s.messages), func(i int) bool {
		m := s.messages[i]
		if m.CreatedAt.Equal(msg.CreatedAt) {
			return m.ID > msg.ID
		}
		return m.CreatedAt.After(msg.CreatedAt)
	})
	s.messages = append(s.messages, nil)
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg

	for j := i; j < len(s.messages); j++ {
		s.index[s.messages[j].ID] = j
	}
}

func (s *Session) refreshPresence() {
	online := s.tracker.Online(s.participant.Role.Other())

	s.mu.Lock()
	changed := online != s.online
	s.online = online
	s.mu.Unlock()

	if !online {
		s.indicator.Clear()
	}
	if changed {
		s.emit(Update{Kind: UpdatePresence, Online: online})
	}
}

func (s *Session) broadcastTyping(on bool) {
	if s.sub == nil {
		return
	}
	s.sub.Broadcast(realtime.Event{
		Kind:   realtime.KindTyping,
		Typing: &realtime.Typing{Role: s.participant.Role, IsTyping: on},
	}, false)
}

func (s *Session) retryPending(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return nil
		}
		p := s.pending[0]
		s.mu.Unlock()

		msg, err := s.svc.SendMessage(ctx, s.conversationID, s.participant, p.Text)
		if err != nil && !errors.Is(err, conversation.ErrValidation) {
			return err
		}

		s.mu.Lock()
		if len(s.pending) > 0 && s.pending[0].LocalID == p.LocalID {
			s.pending = s.pending[1:]
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("dropping pending message", "local_id", p.LocalID, "error", err)
			continue
		}
		s.onMessageInserted(msg)
	}
}

func (s *Session) addPending(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, Pending{
		LocalID:   uuid.New().String(),
		Text:      text,
		CreatedAt: time.Now(),
	})
}

func (s *Session) setDegraded() {
	s.mu.Lock()
	already := s.degraded
	s.degraded = true
	s.mu.Unlock()

	if !already {
		s.emit(Update{Kind: UpdateDegraded})
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit pushes u to every watcher without blocking.
func (s *Session) emit(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for id, w := range s.watchers {
		select {
		case w <- u:
		default:
			s.logger.Debug("update dropped for slow watcher", "watcher", id, "kind", u.Kind)
		}
	}
}
