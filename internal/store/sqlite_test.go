// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers conversation uniqueness, message ordering, read receipts and unread counters

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestSQLite_ConversationPerEnquiryIsUnique(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	enq := seedEnquiry(t, store)

	first := &Conversation{EnquiryID: enq.ID}
	require.NoError(t, store.CreateConversation(ctx, first))

	second := &Conversation{EnquiryID: enq.ID}
	err := store.CreateConversation(ctx, second)
	assert.ErrorIs(t, err, ErrDuplicateConversation)

	got, err := store.GetConversationByEnquiry(ctx, enq.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestSQLite_GetConversation_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_InsertMessage_MonotonicCreatedAt(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	// Freeze the clock so every insert would get the same timestamp.
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return frozen }

	conv := seedConversation(t, store)
	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		msg, err := store.InsertMessage(ctx, &NewMessage{
			ConversationID: conv.ID,
			SenderType:     SenderUser,
			SenderName:     "Ada",
			Text:           text,
		})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
		if i > 0 {
			assert.True(t, m.CreatedAt.After(msgs[i-1].CreatedAt), "created_at must be strictly increasing")
		}
	}
}

func TestSQLite_InsertMessage_Validation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	conv := seedConversation(t, store)

	_, err := store.InsertMessage(ctx, &NewMessage{ConversationID: conv.ID, SenderType: SenderUser})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.InsertMessage(ctx, &NewMessage{ConversationID: conv.ID, SenderType: "bot", Text: "hi"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.InsertMessage(ctx, &NewMessage{ConversationID: "nope", SenderType: SenderUser, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UnreadCounters(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	conv := seedConversation(t, store)

	insert(t, store, conv.ID, SenderUser, "hello")
	insert(t, store, conv.ID, SenderUser, "anyone?")
	insert(t, store, conv.ID, SenderAdmin, "hi there")

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadAdminCount)
	assert.Equal(t, 1, got.UnreadUserCount)
	require.NotNil(t, got.LastMessageAt)

	ids, err := store.UnreadMessageIDs(ctx, conv.ID, SenderAdmin)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	changed, err := store.MarkRead(ctx, ids, SenderAdmin)
	require.NoError(t, err)
	assert.Len(t, changed, 2)

	got, err = store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadAdminCount)
	assert.Equal(t, 1, got.UnreadUserCount)
}

func TestSQLite_MarkRead_Idempotent(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	conv := seedConversation(t, store)

	msg := insert(t, store, conv.ID, SenderUser, "hello")

	changed, err := store.MarkRead(ctx, []string{msg.ID}, SenderAdmin)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	firstReadAt := *changed[0].ReadAt

	changed, err = store.MarkRead(ctx, []string{msg.ID}, SenderAdmin)
	require.NoError(t, err)
	assert.Empty(t, changed)

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, msgs[0].ReadAt)
	assert.True(t, firstReadAt.Equal(*msgs[0].ReadAt))
}

func TestSQLite_MarkRead_NeverMarksOwnMessages(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()
	conv := seedConversation(t, store)

	own := insert(t, store, conv.ID, SenderAdmin, "from admin")
	theirs := insert(t, store, conv.ID, SenderUser, "from user")

	changed, err := store.MarkRead(ctx, []string{own.ID, theirs.ID, "unknown"}, SenderAdmin)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, theirs.ID, changed[0].ID)

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	for _, m := range msgs {
		if m.ReadAt != nil {
			assert.NotEqual(t, SenderAdmin, m.SenderType)
		}
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

func seedEnquiry(t *testing.T, s Store) *Enquiry {
	t.Helper()
	enq := &Enquiry{CustomerID: "cust-1", Name: "Ada Lovelace", Email: "ada@example.com", Subject: "Kitchen refit"}
	require.NoError(t, s.CreateEnquiry(context.Background(), enq))
	return enq
}

func seedConversation(t *testing.T, s Store) *Conversation {
	t.Helper()
	enq := seedEnquiry(t, s)
	conv := &Conversation{EnquiryID: enq.ID}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func insert(t *testing.T, s Store, convID string, sender SenderType, text string) *Message {
	t.Helper()
	msg, err := s.InsertMessage(context.Background(), &NewMessage{
		ConversationID: convID,
		SenderType:     sender,
		SenderName:     string(sender),
		Text:           text,
	})
	require.NoError(t, err)
	return msg
}
