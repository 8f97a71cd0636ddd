// Package realtime is the in-process transport for conversation events.
//
// # Topics
//
// Each conversation has one logical topic, ConversationTopic(id). Two
// table-level topics, TopicEnquiries and TopicMessages, carry store inserts
// across all conversations for the admin notification fan-out.
//
// # Event Kinds
//
// Events are multiplexed on a topic but tagged with a Kind:
//
//   - message_inserted, message_updated, enquiry_inserted: store change feed
//   - typing: ephemeral client broadcast
//   - presence_join, presence_leave, presence_sync: presence tracking
//
// # Presence
//
// A subscription calls Track(role, at) once it is live. The hub emits a
// join for the new entry followed by a sync carrying the full snapshot.
// Closing a tracked subscription emits leave then sync. Consumers treat
// sync as authoritative, since join/leave deltas can be dropped for slow
// subscribers.
//
// # Delivery
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and a warning is logged. The subscription's Lagged channel is then
// signalled so the consumer can reload from the store. Sends happen under the hub lock so a concurrent
// Close can never race a send on a closed channel.
package realtime
