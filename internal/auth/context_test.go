// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests participant propagation and the admin check

package auth

import (
	"context"
	"testing"

	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/store"
)

func TestFromContext_RoundTrip(t *testing.T) {
	want := conversation.Participant{ID: "cust-1", Role: store.SenderUser, Name: "Ada"}
	ctx := WithParticipant(context.Background(), want)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext() ok = false")
	}
	if got != want {
		t.Errorf("FromContext() = %+v, want %+v", got, want)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext() ok = true for empty context")
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFromContext() did not panic")
		}
	}()
	MustFromContext(context.Background())
}

func TestIsAdmin(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want bool
	}{
		{"admin", WithParticipant(context.Background(), conversation.Participant{ID: "a", Role: store.SenderAdmin}), true},
		{"user", WithParticipant(context.Background(), conversation.Participant{ID: "u", Role: store.SenderUser}), false},
		{"anonymous", context.Background(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAdmin(tt.ctx); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}
}
