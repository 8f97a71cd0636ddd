// Package conversation provides the message-persistence API used by
// conversation sessions and the HTTP layer.
//
// # Overview
//
// The Service sits between callers and the store. It owns the rules the
// store does not know about: text sanitizing and the byte cap, participant
// access checks, and lazy one-per-enquiry conversation creation.
//
//	svc := conversation.New(store, hub, cfg.Chat.MaxMessageBytes, logger)
//
// Key operations:
//
//   - CreateEnquiry(ctx, enquiry): record an enquiry, publish enquiry_inserted
//   - GetOrCreateConversation(ctx, enquiryID): lookup-then-create, race tolerant
//   - Authorize(ctx, conversationID, participant): ownership check
//   - ListMessages(ctx, conversationID): ordered history
//   - SendMessage(ctx, conversationID, participant, text): record, publish message_inserted
//   - MarkRead / MarkConversationRead: record read receipts, publish message_updated
//
// # Change Feed
//
// Record first, then publish. Every committed write is published on the
// realtime hub:
//
//  1. message_inserted on the conversation topic and on realtime.TopicMessages
//  2. message_updated on the conversation topic, once per row that changed
//  3. enquiry_inserted on realtime.TopicEnquiries
//
// Subscribers never see a message that is not durable, and a failed write
// publishes nothing.
//
// # Conversation Creation
//
// At most one conversation exists per enquiry. Creation is lookup-then-insert
// against a unique index; when the insert loses a race the store returns
// store.ErrDuplicateConversation and the service fetches the existing row.
package conversation
