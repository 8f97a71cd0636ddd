// ABOUTME: REST API handlers for enquiries, conversations, messages and read receipts
// ABOUTME: Every route runs behind JWT auth and checks conversation access before touching data

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/chatdesk/internal/auth"
	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/store"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 64 << 10

// CreateEnquiryRequest is the JSON request body for POST /api/enquiries.
// CustomerID is honoured only for admins; users always own what they create.
type CreateEnquiryRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Subject    string `json:"subject"`
	CustomerID string `json:"customer_id,omitempty"`
}

// EnquiryResponse is the JSON response for an enquiry.
type EnquiryResponse struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Subject    string `json:"subject,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ConversationResponse is the JSON response for conversation metadata.
type ConversationResponse struct {
	ID               string  `json:"id"`
	EnquiryID        string  `json:"enquiry_id"`
	UnreadAdminCount int     `json:"unread_admin_count"`
	UnreadUserCount  int     `json:"unread_user_count"`
	LastMessageAt    *string `json:"last_message_at"`
	CreatedAt        string  `json:"created_at"`
}

// ConversationMessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// MarkReadResponse is the JSON response for POST /api/conversations/{id}/read.
type MarkReadResponse struct {
	Marked int `json:"marked"`
}

// handleCreateEnquiry handles POST /api/enquiries.
func (g *Gateway) handleCreateEnquiry(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())

	req, err := parseCreateEnquiryRequest(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	customerID := p.ID
	if p.Role == store.SenderAdmin && req.CustomerID != "" {
		customerID = req.CustomerID
	}

	enquiry := &store.Enquiry{
		CustomerID: customerID,
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Subject:    strings.TrimSpace(req.Subject),
	}
	if err := g.conversation.CreateEnquiry(r.Context(), enquiry); err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, enquiryResponse(enquiry))
}

// handleOpenConversation handles POST /api/enquiries/{id}/conversation.
// It returns the enquiry's conversation, creating it on first use.
func (g *Gateway) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())
	enquiryID := r.PathValue("id")

	enquiry, err := g.store.GetEnquiry(r.Context(), enquiryID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	if p.Role != store.SenderAdmin && enquiry.CustomerID != p.ID {
		g.writeServiceError(w, conversation.ErrInvalidConversation)
		return
	}

	conv, err := g.conversation.GetOrCreateConversation(r.Context(), enquiryID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleListMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())
	convID := r.PathValue("id")

	if _, err := g.conversation.Authorize(r.Context(), convID, p); err != nil {
		g.writeServiceError(w, err)
		return
	}

	msgs, err := g.conversation.ListMessages(r.Context(), convID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, ConversationMessagesResponse{
		ConversationID: convID,
		Messages:       g.renderer.messages(msgs),
	})
}

// handleSendMessage handles POST /api/conversations/{id}/messages. Open
// sessions on the conversation receive the message through the hub.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())
	convID := r.PathValue("id")

	if _, err := g.conversation.Authorize(r.Context(), convID, p); err != nil {
		g.writeServiceError(w, err)
		return
	}

	req, err := parseSendRequest(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.conversation.SendMessage(r.Context(), convID, p, req.Text)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusCreated, g.renderer.message(msg))
}

// handleMarkRead handles POST /api/conversations/{id}/read. Marks every
// message from the other role as read by the caller.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())
	convID := r.PathValue("id")

	if _, err := g.conversation.Authorize(r.Context(), convID, p); err != nil {
		g.writeServiceError(w, err)
		return
	}

	changed, err := g.conversation.MarkConversationRead(r.Context(), convID, p.Role)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, MarkReadResponse{Marked: len(changed)})
}

// writeServiceError maps service and store errors to HTTP responses.
func (g *Gateway) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrInvalidConversation), errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// parseCreateEnquiryRequest parses a CreateEnquiryRequest. Name is required.
func parseCreateEnquiryRequest(r io.Reader) (*CreateEnquiryRequest, error) {
	var req CreateEnquiryRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("name is required")
	}

	return &req, nil
}

// parseSendRequest parses a SendMessageRequest. Emptiness and length are
// checked by the conversation service after sanitizing.
func parseSendRequest(r io.Reader) (*SendMessageRequest, error) {
	var req SendMessageRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	return &req, nil
}

func enquiryResponse(e *store.Enquiry) EnquiryResponse {
	return EnquiryResponse{
		ID:         e.ID,
		CustomerID: e.CustomerID,
		Name:       e.Name,
		Email:      e.Email,
		Subject:    e.Subject,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:               c.ID,
		EnquiryID:        c.EnquiryID,
		UnreadAdminCount: c.UnreadAdminCount,
		UnreadUserCount:  c.UnreadUserCount,
		CreatedAt:        c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if c.LastMessageAt != nil {
		s := c.LastMessageAt.UTC().Format(time.RFC3339Nano)
		resp.LastMessageAt = &s
	}
	return resp
}
