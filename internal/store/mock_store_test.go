// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on duplicate detection, read receipt rules and failure injection

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_CreateConversation_Duplicate(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	enq := seedEnquiry(t, store)

	require.NoError(t, store.CreateConversation(ctx, &Conversation{EnquiryID: enq.ID}))
	err := store.CreateConversation(ctx, &Conversation{EnquiryID: enq.ID})
	assert.ErrorIs(t, err, ErrDuplicateConversation)
}

func TestMockStore_MarkRead_MatchesSQLiteRules(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	conv := seedConversation(t, store)

	own := insert(t, store, conv.ID, SenderUser, "mine")
	theirs := insert(t, store, conv.ID, SenderAdmin, "theirs")

	changed, err := store.MarkRead(ctx, []string{own.ID, theirs.ID}, SenderUser)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, theirs.ID, changed[0].ID)

	changed, err = store.MarkRead(ctx, []string{theirs.ID}, SenderUser)
	require.NoError(t, err)
	assert.Empty(t, changed)

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadUserCount)
	assert.Equal(t, 1, got.UnreadAdminCount)
}

func TestMockStore_InsertErr(t *testing.T) {
	store := NewMockStore()
	conv := seedConversation(t, store)
	store.InsertErr = errors.New("db down")

	_, err := store.InsertMessage(context.Background(), &NewMessage{
		ConversationID: conv.ID,
		SenderType:     SenderUser,
		Text:           "hello",
	})
	assert.EqualError(t, err, "db down")
}

func TestMockStore_ListMessages_ReturnsCopies(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	conv := seedConversation(t, store)
	msg := insert(t, store, conv.ID, SenderUser, "hello")

	msgs, err := store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	msgs[0].Text = "mutated"

	assert.Equal(t, "hello", store.Message(msg.ID).Text)
}
