// ABOUTME: ConversationService is the message-persistence API used by sessions
// ABOUTME: Every write is recorded in the store first, then published on the realtime hub

package conversation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/2389/chatdesk/internal/realtime"
	"github.com/2389/chatdesk/internal/store"
)

// DefaultMaxMessageBytes caps message_text after sanitizing.
const DefaultMaxMessageBytes = 4000

// ErrInvalidConversation is returned when a conversation does not exist or
// the caller is not one of its participants.
var ErrInvalidConversation = errors.New("invalid conversation")

// ErrValidation is returned for empty or oversized message text.
var ErrValidation = store.ErrValidation

// Participant is the explicit identity every session and fan-out is built
// with. Nothing in this package reads identity from ambient state.
type Participant struct {
	ID   string // principal ID from the identity provider
	Role store.SenderType
	Name string // display name attached to sent messages
}

// Publisher is the part of the realtime hub the service writes to.
type Publisher interface {
	Publish(topic string, ev realtime.Event, excludeSubID string)
}

// Observer receives write counters. Implemented by the metrics package.
type Observer interface {
	MessageRecorded(role string)
	ReceiptsRecorded(n int)
}

// Service records messages, conversations and read receipts and acts as the
// store's change feed: each committed write is published to the
// conversation topic and the matching table topic.
type Service struct {
	store     store.Store
	publisher Publisher
	maxBytes  int
	policy    *bluemonday.Policy
	observer  Observer
	logger    *slog.Logger
}

// New creates a conversation service. maxBytes <= 0 uses DefaultMaxMessageBytes.
func New(s store.Store, publisher Publisher, maxBytes int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMessageBytes
	}
	return &Service{
		store:     s,
		publisher: publisher,
		maxBytes:  maxBytes,
		policy:    bluemonday.StrictPolicy(),
		logger:    logger.With("component", "conversation"),
	}
}

// SetObserver installs a counter observer. Call before the service is in use.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// CreateEnquiry persists an enquiry and announces it on the enquiries topic.
func (s *Service) CreateEnquiry(ctx context.Context, enquiry *store.Enquiry) error {
	if strings.TrimSpace(enquiry.Name) == "" || enquiry.CustomerID == "" {
		return fmt.Errorf("%w: enquiry name and customer are required", ErrValidation)
	}
	if err := s.store.CreateEnquiry(ctx, enquiry); err != nil {
		return fmt.Errorf("recording enquiry: %w", err)
	}

	e := *enquiry
	s.publisher.Publish(realtime.TopicEnquiries, realtime.Event{
		Kind:    realtime.KindEnquiryInserted,
		Enquiry: &e,
	}, "")

	s.logger.Debug("enquiry recorded", "enquiry_id", enquiry.ID)
	return nil
}

// GetOrCreateConversation returns the conversation for an enquiry, creating
// it on first use. A lost create race is resolved by fetching the winner.
func (s *Service) GetOrCreateConversation(ctx context.Context, enquiryID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversationByEnquiry(ctx, enquiryID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if _, err := s.store.GetEnquiry(ctx, enquiryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidConversation
		}
		return nil, err
	}

	conv = &store.Conversation{EnquiryID: enquiryID}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		// Handle race condition: another request may have created the
		// conversation between our lookup and insert attempt
		if errors.Is(err, store.ErrDuplicateConversation) {
			existing, lookupErr := s.store.GetConversationByEnquiry(ctx, enquiryID)
			if lookupErr == nil {
				s.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, err
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID, "enquiry_id", enquiryID)
	return conv, nil
}

// Authorize resolves a conversation and checks that p may take part in it.
// Admins may open any conversation; users only those on their own enquiry.
func (s *Service) Authorize(ctx context.Context, conversationID string, p Participant) (*store.Conversation, error) {
	if !p.Role.Valid() || p.ID == "" {
		return nil, ErrInvalidConversation
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidConversation
	}
	if err != nil {
		return nil, err
	}
	if p.Role == store.SenderAdmin {
		return conv, nil
	}

	enquiry, err := s.store.GetEnquiry(ctx, conv.EnquiryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidConversation
	}
	if err != nil {
		return nil, err
	}
	if enquiry.CustomerID != p.ID {
		return nil, ErrInvalidConversation
	}
	return conv, nil
}

// GetConversation returns conversation metadata including unread counters.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, conversationID)
}

// EnquiryForConversation resolves the enquiry a conversation belongs to.
func (s *Service) EnquiryForConversation(ctx context.Context, conversationID string) (*store.Enquiry, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return s.store.GetEnquiry(ctx, conv.EnquiryID)
}

// ListMessages returns a conversation's messages ordered by created_at.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return s.store.ListMessages(ctx, conversationID)
}

// maxSanitizePasses bounds how many layers of entity encoding are peeled.
const maxSanitizePasses = 8

// Sanitize strips markup and surrounding whitespace from message text and
// enforces the byte cap.
func (s *Service) Sanitize(text string) (string, error) {
	clean := strings.TrimSpace(s.stripMarkup(text))
	if clean == "" {
		return "", fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if len(clean) > s.maxBytes {
		return "", fmt.Errorf("%w: message exceeds %d bytes", ErrValidation, s.maxBytes)
	}
	return clean, nil
}

// stripMarkup applies the policy and decodes entities until the text stops
// changing, so entity-encoded tags are stripped too. Text that never
// settles is returned entity-escaped.
func (s *Service) stripMarkup(text string) string {
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return next
		}
		text = next
	}
	return s.policy.Sanitize(text)
}

// SendMessage records a message from p and publishes message_inserted.
//
// Key principle: record first, then publish. Subscribers only ever see
// messages that are already durable.
func (s *Service) SendMessage(ctx context.Context, conversationID string, p Participant, text string) (*store.Message, error) {
	clean, err := s.Sanitize(text)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.InsertMessage(ctx, &store.NewMessage{
		ConversationID: conversationID,
		SenderType:     p.Role,
		SenderName:     p.Name,
		Text:           clean,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidConversation
	}
	if err != nil {
		return nil, fmt.Errorf("recording message: %w", err)
	}

	s.logger.Debug("message recorded",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"sender_type", msg.SenderType)

	if s.observer != nil {
		s.observer.MessageRecorded(string(msg.SenderType))
	}
	s.publishMessage(realtime.KindMessageInserted, msg)
	return msg, nil
}

// MarkRead marks the given messages read by reader and publishes
// message_updated for each row that actually changed.
func (s *Service) MarkRead(ctx context.Context, ids []string, reader store.SenderType) ([]*store.Message, error) {
	changed, err := s.store.MarkRead(ctx, ids, reader)
	if err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}
	if s.observer != nil && len(changed) > 0 {
		s.observer.ReceiptsRecorded(len(changed))
	}
	for _, msg := range changed {
		s.publishMessage(realtime.KindMessageUpdated, msg)
	}
	return changed, nil
}

// MarkConversationRead marks every unread message from the other role in a
// conversation as read by reader.
func (s *Service) MarkConversationRead(ctx context.Context, conversationID string, reader store.SenderType) ([]*store.Message, error) {
	ids, err := s.store.UnreadMessageIDs(ctx, conversationID, reader)
	if err != nil {
		return nil, fmt.Errorf("listing unread: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.MarkRead(ctx, ids, reader)
}

// publishMessage fans a message change out to its conversation topic and,
// for inserts, to the messages table topic.
func (s *Service) publishMessage(kind realtime.Kind, msg *store.Message) {
	s.publisher.Publish(realtime.ConversationTopic(msg.ConversationID), realtime.Event{
		Kind:    kind,
		Message: msg.Clone(),
	}, "")

	if kind == realtime.KindMessageInserted {
		s.publisher.Publish(realtime.TopicMessages, realtime.Event{
			Kind:    kind,
			Message: msg.Clone(),
		}, "")
	}
}
