// ABOUTME: Discriminated event types carried on realtime topics
// ABOUTME: Separates data-change, typing broadcast and presence events by Kind

package realtime

import (
	"time"

	"github.com/2389/chatdesk/internal/store"
)

// Kind tags what an Event carries. Data-change, broadcast and presence
// events share one topic but consumers switch on Kind.
type Kind string

const (
	// Store-driven data-change events
	KindMessageInserted Kind = "message_inserted"
	KindMessageUpdated  Kind = "message_updated"
	KindEnquiryInserted Kind = "enquiry_inserted"

	// Ephemeral client broadcast
	KindTyping Kind = "typing"

	// Presence
	KindPresenceSync  Kind = "presence_sync"
	KindPresenceJoin  Kind = "presence_join"
	KindPresenceLeave Kind = "presence_leave"
)

// Topic names for table-level subscriptions used by the admin fan-out.
const (
	TopicEnquiries = "table:enquiries"
	TopicMessages  = "table:messages"
)

// ConversationTopic returns the topic carrying one conversation's events.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}

// Typing is the payload of a KindTyping broadcast.
type Typing struct {
	Role     store.SenderType
	IsTyping bool
}

// PresenceMeta describes one tracked subscription on a topic.
type PresenceMeta struct {
	Key      string // subscription ID that tracked it
	Role     store.SenderType
	OnlineAt time.Time
}

// Event is a single item delivered to subscribers. Exactly one payload
// field is set, matching Kind.
type Event struct {
	Kind  Kind
	Topic string

	Message  *store.Message // message_inserted, message_updated
	Enquiry  *store.Enquiry // enquiry_inserted
	Typing   *Typing        // typing
	Presence *PresenceMeta  // presence_join, presence_leave
	Snapshot []PresenceMeta // presence_sync
}
