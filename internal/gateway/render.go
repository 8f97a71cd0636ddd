// ABOUTME: Renders stored message text to safe HTML for API and WebSocket clients
// ABOUTME: Converts markdown with goldmark and sanitizes the output with bluemonday

package gateway

import (
	"bytes"
	"html"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/2389/chatdesk/internal/session"
	"github.com/2389/chatdesk/internal/store"
)

// renderer turns message text into HTML. Stored text stays plain; the
// HTML is derived per response.
type renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newRenderer() *renderer {
	return &renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Render converts text to sanitized HTML. On a conversion error the text
// is escaped and wrapped in a paragraph.
func (r *renderer) Render(text string) string {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return r.policy.Sanitize(buf.String())
}

// MessageResponse is the JSON form of a message.
type MessageResponse struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderType     string  `json:"sender_type"`
	SenderName     string  `json:"sender_name"`
	Text           string  `json:"text"`
	HTML           string  `json:"html"`
	CreatedAt      string  `json:"created_at"`
	ReadAt         *string `json:"read_at"`
	Pending        bool    `json:"pending,omitempty"`
}

func (r *renderer) message(msg *store.Message) MessageResponse {
	resp := MessageResponse{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderType:     string(msg.SenderType),
		SenderName:     msg.SenderName,
		Text:           msg.Text,
		HTML:           r.Render(msg.Text),
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if msg.ReadAt != nil {
		s := msg.ReadAt.UTC().Format(time.RFC3339Nano)
		resp.ReadAt = &s
	}
	return resp
}

func (r *renderer) messages(msgs []*store.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, r.message(msg))
	}
	return out
}

// pending renders a local echo. It has no server id or read state yet.
func (r *renderer) pending(conversationID string, role store.SenderType, p session.Pending) MessageResponse {
	return MessageResponse{
		ID:             p.LocalID,
		ConversationID: conversationID,
		SenderType:     string(role),
		Text:           p.Text,
		HTML:           r.Render(p.Text),
		CreatedAt:      p.CreatedAt.UTC().Format(time.RFC3339Nano),
		Pending:        true,
	}
}
