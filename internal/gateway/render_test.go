// ABOUTME: Tests for message rendering to sanitized HTML and JSON shapes
// ABOUTME: Checks markdown output, link handling and read state formatting

package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/chatdesk/internal/session"
	"github.com/2389/chatdesk/internal/store"
)

func TestRenderer_Render(t *testing.T) {
	r := newRenderer()

	tests := []struct {
		name    string
		text    string
		want    []string
		notWant []string
	}{
		{"plain", "hello", []string{"<p>hello</p>"}, nil},
		{"bold", "**urgent**", []string{"<strong>urgent</strong>"}, nil},
		{"autolink", "see https://example.com", []string{`href="https://example.com"`, `rel="nofollow"`}, nil},
		{"hard wraps", "line one\nline two", []string{"<br"}, nil},
		{"raw html dropped", "<img src=x onerror=alert(1)>", nil, []string{"onerror"}},
		{"javascript link", "[x](javascript:alert(1))", nil, []string{"javascript:"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Render(tt.text)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, got, nw)
			}
		})
	}
}

func TestRenderer_Message(t *testing.T) {
	r := newRenderer()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	read := created.Add(time.Minute)

	msg := &store.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderType:     store.SenderAdmin,
		SenderName:     "Support",
		Text:           "hi",
		CreatedAt:      created,
	}

	got := r.message(msg)
	assert.Equal(t, "admin", got.SenderType)
	assert.Equal(t, "2026-03-01T12:00:00Z", got.CreatedAt)
	assert.Nil(t, got.ReadAt)
	assert.False(t, got.Pending)

	msg.ReadAt = &read
	got = r.message(msg)
	if assert.NotNil(t, got.ReadAt) {
		assert.Equal(t, "2026-03-01T12:01:00Z", *got.ReadAt)
	}
}

func TestRenderer_Pending(t *testing.T) {
	r := newRenderer()
	p := session.Pending{LocalID: "local-1", Text: "retry me", CreatedAt: time.Now()}

	got := r.pending("c1", store.SenderUser, p)
	assert.True(t, got.Pending)
	assert.Equal(t, "local-1", got.ID)
	assert.Equal(t, "user", got.SenderType)
	assert.Nil(t, got.ReadAt)
}
