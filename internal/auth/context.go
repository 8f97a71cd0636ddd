// ABOUTME: Authentication context for tracking the participant through request handlers
// ABOUTME: Provides WithParticipant/FromContext for propagating identity via context

package auth

import (
	"context"

	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/store"
)

// participantKey is the key type for storing the participant in context.Context.
type participantKey struct{}

// WithParticipant returns a new context with the participant attached.
func WithParticipant(ctx context.Context, p conversation.Participant) context.Context {
	return context.WithValue(ctx, participantKey{}, p)
}

// FromContext retrieves the participant from the context. ok is false if
// the request was not authenticated.
func FromContext(ctx context.Context) (conversation.Participant, bool) {
	p, ok := ctx.Value(participantKey{}).(conversation.Participant)
	return p, ok
}

// MustFromContext retrieves the participant from the context, panicking if not present.
func MustFromContext(ctx context.Context) conversation.Participant {
	p, ok := FromContext(ctx)
	if !ok {
		panic("auth: participant not found in context")
	}
	return p
}

// IsAdmin reports whether the context carries an admin participant.
func IsAdmin(ctx context.Context) bool {
	p, ok := FromContext(ctx)
	return ok && p.Role == store.SenderAdmin
}
