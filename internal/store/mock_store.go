// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	enquiries     map[string]*Enquiry      // keyed by enquiry ID
	conversations map[string]*Conversation // keyed by conversation ID
	byEnquiry     map[string]string        // enquiry ID -> conversation ID
	messages      map[string]*Message      // keyed by message ID
	lastCreated   map[string]time.Time     // conversation ID -> latest created_at

	// InsertErr, when set, is returned by InsertMessage instead of persisting.
	InsertErr error
	// MarkReadErr, when set, is returned by MarkRead instead of persisting.
	MarkReadErr error
	// MarkReadCalls counts MarkRead invocations.
	MarkReadCalls int
	// BeforeCreateConversation runs inside CreateConversation before the
	// duplicate check, letting tests simulate a concurrent create.
	BeforeCreateConversation func(conv *Conversation)
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		enquiries:     make(map[string]*Enquiry),
		conversations: make(map[string]*Conversation),
		byEnquiry:     make(map[string]string),
		messages:      make(map[string]*Message),
		lastCreated:   make(map[string]time.Time),
	}
}

// CreateEnquiry stores a new enquiry.
func (m *MockStore) CreateEnquiry(ctx context.Context, enquiry *Enquiry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if enquiry.ID == "" {
		enquiry.ID = uuid.New().String()
	}
	if enquiry.CreatedAt.IsZero() {
		enquiry.CreatedAt = time.Now().UTC()
	}
	e := *enquiry
	m.enquiries[e.ID] = &e
	return nil
}

// GetEnquiry retrieves an enquiry by ID.
func (m *MockStore) GetEnquiry(ctx context.Context, id string) (*Enquiry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.enquiries[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *e
	return &result, nil
}

// CreateConversation stores a conversation, enforcing one per enquiry.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	hook := m.BeforeCreateConversation
	m.BeforeCreateConversation = nil
	m.mu.Unlock()
	if hook != nil {
		hook(conv)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEnquiry[conv.EnquiryID]; exists {
		return ErrDuplicateConversation
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	c := *conv
	m.conversations[c.ID] = &c
	m.byEnquiry[c.EnquiryID] = c.ID
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetConversationByEnquiry retrieves the conversation for an enquiry.
func (m *MockStore) GetConversationByEnquiry(ctx context.Context, enquiryID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEnquiry[enquiryID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.conversations[id]
	return &result, nil
}

// ListMessages returns a conversation's messages ordered by created_at.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			result = append(result, msg.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// InsertMessage stores a message with a strictly increasing created_at.
func (m *MockStore) InsertMessage(ctx context.Context, in *NewMessage) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return nil, m.InsertErr
	}
	if in.Text == "" || !in.SenderType.Valid() {
		return nil, ErrValidation
	}
	conv, ok := m.conversations[in.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	if last, ok := m.lastCreated[in.ConversationID]; ok && !createdAt.After(last) {
		createdAt = last.Add(time.Microsecond)
	}
	m.lastCreated[in.ConversationID] = createdAt

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		SenderType:     in.SenderType,
		SenderName:     in.SenderName,
		Text:           in.Text,
		CreatedAt:      createdAt,
	}
	m.messages[msg.ID] = msg

	if in.SenderType == SenderAdmin {
		conv.UnreadUserCount++
	} else {
		conv.UnreadAdminCount++
	}
	last := createdAt
	conv.LastMessageAt = &last

	return msg.Clone(), nil
}

// MarkRead sets read_at on unread messages authored by the other role.
func (m *MockStore) MarkRead(ctx context.Context, ids []string, reader SenderType) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MarkReadCalls++
	if m.MarkReadErr != nil {
		return nil, m.MarkReadErr
	}

	now := time.Now().UTC()
	var changed []*Message
	for _, id := range ids {
		msg, ok := m.messages[id]
		if !ok || msg.SenderType == reader || msg.ReadAt != nil {
			continue
		}
		readAt := now
		msg.ReadAt = &readAt
		if conv, ok := m.conversations[msg.ConversationID]; ok {
			if msg.SenderType == SenderAdmin {
				conv.UnreadUserCount--
			} else {
				conv.UnreadAdminCount--
			}
		}
		changed = append(changed, msg.Clone())
	}
	return changed, nil
}

// UnreadMessageIDs lists unread messages authored by the other role.
func (m *MockStore) UnreadMessageIDs(ctx context.Context, conversationID string, reader SenderType) ([]string, error) {
	msgs, err := m.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, msg := range msgs {
		if msg.SenderType != reader && msg.ReadAt == nil {
			ids = append(ids, msg.ID)
		}
	}
	return ids, nil
}

// Message returns a copy of a stored message, or nil if unknown.
func (m *MockStore) Message(id string) *Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil
	}
	return msg.Clone()
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
