// ABOUTME: Tests for the presence state machine
// ABOUTME: Covers join/leave transitions and sync overriding stale join state

package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/chatdesk/internal/realtime"
	"github.com/2389/chatdesk/internal/store"
)

func meta(key string, role store.SenderType) realtime.PresenceMeta {
	return realtime.PresenceMeta{Key: key, Role: role, OnlineAt: time.Now()}
}

func TestTracker_StartsUnknown(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Unknown, tr.State(store.SenderAdmin))
	assert.False(t, tr.Online(store.SenderAdmin))
}

func TestTracker_JoinThenLeave(t *testing.T) {
	tr := NewTracker()

	tr.Join(meta("a", store.SenderAdmin))
	assert.Equal(t, Online, tr.State(store.SenderAdmin))

	tr.Leave(meta("a", store.SenderAdmin))
	assert.Equal(t, Offline, tr.State(store.SenderAdmin))
}

func TestTracker_RoleStaysOnlineWhileAnyKeyRemains(t *testing.T) {
	tr := NewTracker()

	tr.Join(meta("admin-tab-1", store.SenderAdmin))
	tr.Join(meta("admin-tab-2", store.SenderAdmin))
	tr.Leave(meta("admin-tab-1", store.SenderAdmin))

	assert.True(t, tr.Online(store.SenderAdmin))
}

func TestTracker_SyncIsAuthoritativeOverJoin(t *testing.T) {
	tr := NewTracker()

	tr.Join(meta("u", store.SenderUser))
	assert.True(t, tr.Online(store.SenderUser))

	// The leave was lost; the next sync has no user entries.
	tr.Sync([]realtime.PresenceMeta{meta("a", store.SenderAdmin)})

	assert.Equal(t, Offline, tr.State(store.SenderUser))
	assert.Equal(t, Online, tr.State(store.SenderAdmin))
}

func TestTracker_SyncEmptySetsEveryoneOffline(t *testing.T) {
	tr := NewTracker()
	tr.Join(meta("a", store.SenderAdmin))

	tr.Sync(nil)

	assert.Equal(t, Offline, tr.State(store.SenderAdmin))
	assert.Equal(t, Offline, tr.State(store.SenderUser))
}

func TestTracker_Apply(t *testing.T) {
	tr := NewTracker()
	m := meta("u", store.SenderUser)

	tests := []struct {
		name    string
		event   realtime.Event
		handled bool
		want    State
	}{
		{"join", realtime.Event{Kind: realtime.KindPresenceJoin, Presence: &m}, true, Online},
		{"typing ignored", realtime.Event{Kind: realtime.KindTyping}, false, Online},
		{"leave", realtime.Event{Kind: realtime.KindPresenceLeave, Presence: &m}, true, Offline},
		{"sync", realtime.Event{Kind: realtime.KindPresenceSync, Snapshot: []realtime.PresenceMeta{m}}, true, Online},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.handled, tr.Apply(tt.event))
			assert.Equal(t, tt.want, tr.State(store.SenderUser))
		})
	}
}
