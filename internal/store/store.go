// ABOUTME: Store interface and data types for chatdesk persistence
// ABOUTME: Defines Enquiry, Conversation, Message and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists for an enquiry
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrValidation is returned when message text is empty or exceeds the byte cap
var ErrValidation = errors.New("invalid message")

// SenderType identifies which side of a conversation authored a message.
type SenderType string

const (
	SenderUser  SenderType = "user"
	SenderAdmin SenderType = "admin"
)

// Valid reports whether t is one of the known sender types.
func (t SenderType) Valid() bool {
	return t == SenderUser || t == SenderAdmin
}

// Other returns the opposite role.
func (t SenderType) Other() SenderType {
	if t == SenderAdmin {
		return SenderUser
	}
	return SenderAdmin
}

// Enquiry is the customer request a conversation hangs off.
type Enquiry struct {
	ID         string
	CustomerID string // principal that owns the enquiry
	Name       string
	Email      string
	Subject    string
	CreatedAt  time.Time
}

// Conversation pairs exactly one enquiry with its message history.
type Conversation struct {
	ID               string
	EnquiryID        string
	UnreadAdminCount int // user-authored messages the admin has not read
	UnreadUserCount  int // admin-authored messages the user has not read
	LastMessageAt    *time.Time
	CreatedAt        time.Time
}

// UnreadFor returns the unread counter relevant to the given reader.
func (c *Conversation) UnreadFor(reader SenderType) int {
	if reader == SenderAdmin {
		return c.UnreadAdminCount
	}
	return c.UnreadUserCount
}

// Message is a single chat message. SenderType and ConversationID never change;
// ReadAt is set at most once, by the party that did not author the message.
type Message struct {
	ID             string
	ConversationID string
	SenderType     SenderType
	SenderName     string
	Text           string
	CreatedAt      time.Time
	ReadAt         *time.Time
}

// Clone returns a deep copy so callers can't mutate shared state.
func (m *Message) Clone() *Message {
	c := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// NewMessage holds the caller-supplied fields for InsertMessage.
type NewMessage struct {
	ConversationID string
	SenderType     SenderType
	SenderName     string
	Text           string
}

// Store defines the interface for enquiry, conversation and message persistence
type Store interface {
	// Enquiries
	CreateEnquiry(ctx context.Context, enquiry *Enquiry) error
	GetEnquiry(ctx context.Context, id string) (*Enquiry, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByEnquiry(ctx context.Context, enquiryID string) (*Conversation, error)

	// Messages, ordered by created_at ascending
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	InsertMessage(ctx context.Context, msg *NewMessage) (*Message, error)

	// MarkRead sets read_at on the given messages that were authored by the
	// other role and are still unread. Returns only the rows it changed.
	MarkRead(ctx context.Context, ids []string, reader SenderType) ([]*Message, error)

	// UnreadMessageIDs lists messages in a conversation the reader has not read yet.
	UnreadMessageIDs(ctx context.Context, conversationID string, reader SenderType) ([]string, error)

	// Close releases any resources held by the store
	Close() error
}
