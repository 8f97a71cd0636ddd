// ABOUTME: Registry of open sessions keyed by viewer and conversation
// ABOUTME: Reuses an existing session instead of opening a second subscription

package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/2389/chatdesk/internal/conversation"
)

// Registry hands out shared sessions. Acquiring the same participant and
// conversation twice returns the same *Session; it is closed once every
// holder has released it.
type Registry struct {
	base Config

	mu       sync.Mutex
	sessions map[string]*entry
	group    singleflight.Group
	logger   *slog.Logger
}

type entry struct {
	session *Session
	refs    int
}

// NewRegistry creates a registry. base supplies everything except the
// participant, which is given per Acquire.
func NewRegistry(base Config) *Registry {
	logger := base.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		base:     base,
		sessions: make(map[string]*entry),
		logger:   logger.With("component", "session_registry"),
	}
}

func registryKey(p conversation.Participant, conversationID string) string {
	return string(p.Role) + "\x00" + p.ID + "\x00" + conversationID
}

// Acquire returns the open session for p on conversationID,
// opening one if needed. The returned release func must be called exactly
// once when the caller is done.
func (r *Registry) Acquire(ctx context.Context, p conversation.Participant, conversationID string) (*Session, func(), error) {
	key := registryKey(p, conversationID)

	for {
		if s, release, ok := r.reuse(key); ok {
			return s, release, nil
		}

		_, err, _ := r.group.Do(key, func() (any, error) {
			r.mu.Lock()
			if _, ok := r.sessions[key]; ok {
				r.mu.Unlock()
				return nil, nil
			}
			r.mu.Unlock()

			cfg := r.base
			cfg.Participant = p
			s, err := Open(ctx, cfg, conversationID)
			if err != nil {
				return nil, err
			}

			r.mu.Lock()
			r.sessions[key] = &entry{session: s}
			r.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session regardless of holders.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for key, e := range r.sessions {
		all = append(all, e.session)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (r *Registry) reuse(key string) (*Session, func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[key]
	if !ok {
		return nil, nil, false
	}
	e.refs++

	var once sync.Once
	return e.session, func() {
		once.Do(func() { r.release(key, e) })
	}, true
}

func (r *Registry) release(key string, e *entry) {
	r.mu.Lock()
	e.refs--
	last := e.refs <= 0
	if last && r.sessions[key] == e {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if last {
		e.session.Close()
		r.logger.Debug("session released", "conversation_id", e.session.ConversationID())
	}
}
