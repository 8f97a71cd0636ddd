// Package store provides persistent storage for chatdesk using SQLite.
//
// # Architecture
//
// The Store interface covers the three tables the realtime conversation
// engine touches:
//
//   - Enquiry: the customer request a conversation is attached to
//   - Conversation: one per enquiry, with denormalized unread counters
//   - Message: chat messages ordered by server-assigned created_at
//
// SQLiteStore is the production implementation; MockStore is an in-memory
// implementation with failure injection for unit tests.
//
// # Message Lifecycle
//
// A message is created by InsertMessage and mutated at most once afterwards,
// when MarkRead sets read_at. MarkRead only touches rows that are unread and
// authored by the other role, so a party never marks its own messages and
// repeated marks are no-ops:
//
//	UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL
//
// created_at is stored as Unix microseconds and is strictly increasing within
// a conversation; InsertMessage bumps a timestamp that would collide with or
// precede the conversation's latest message.
//
// # Conversations
//
// The conversations table has a unique index on enquiry_id. CreateConversation
// returns ErrDuplicateConversation when it loses a create race, and callers
// fetch the existing row instead.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") or a t.TempDir() path in integration tests.
package store
