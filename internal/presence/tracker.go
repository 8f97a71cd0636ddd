// ABOUTME: Presence state machine answering "is the other party connected?"
// ABOUTME: Applies join/leave deltas and treats sync snapshots as authoritative

package presence

import (
	"sync"

	"github.com/2389/chatdesk/internal/realtime"
	"github.com/2389/chatdesk/internal/store"
)

// State is the presence of one role on a conversation topic.
type State int

const (
	Unknown State = iota
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Tracker holds presence beliefs for every role on one topic. A role is
// Online while at least one presence key for it is known. Safe for
// concurrent use.
type Tracker struct {
	mu    sync.Mutex
	keys  map[store.SenderType]map[string]struct{}
	state map[store.SenderType]State
}

// NewTracker returns a tracker with every role Unknown.
func NewTracker() *Tracker {
	return &Tracker{
		keys:  make(map[store.SenderType]map[string]struct{}),
		state: make(map[store.SenderType]State),
	}
}

// State returns the current belief for role.
func (t *Tracker) State(role store.SenderType) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state[role]
}

// Online reports whether role is believed connected.
func (t *Tracker) Online(role store.SenderType) bool {
	return t.State(role) == Online
}

// Join adds a presence key for role.
func (t *Tracker) Join(meta realtime.PresenceMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.keys[meta.Role]
	if !ok {
		set = make(map[string]struct{})
		t.keys[meta.Role] = set
	}
	set[meta.Key] = struct{}{}
	t.state[meta.Role] = Online
}

// Leave removes a presence key. The role goes Offline once no keys remain.
func (t *Tracker) Leave(meta realtime.PresenceMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.keys[meta.Role]
	delete(set, meta.Key)
	if len(set) == 0 {
		t.state[meta.Role] = Offline
	}
}

// Sync replaces all beliefs with the snapshot. Any role absent from the
// snapshot is Offline, regardless of earlier joins.
func (t *Tracker) Sync(snapshot []realtime.PresenceMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[store.SenderType]map[string]struct{})
	for _, meta := range snapshot {
		set, ok := next[meta.Role]
		if !ok {
			set = make(map[string]struct{})
			next[meta.Role] = set
		}
		set[meta.Key] = struct{}{}
	}
	t.keys = next

	for _, role := range []store.SenderType{store.SenderUser, store.SenderAdmin} {
		if len(next[role]) > 0 {
			t.state[role] = Online
		} else {
			t.state[role] = Offline
		}
	}
}

// Apply routes a presence event to Join, Leave or Sync. It reports whether
// the event was a presence event.
func (t *Tracker) Apply(ev realtime.Event) bool {
	switch ev.Kind {
	case realtime.KindPresenceJoin:
		if ev.Presence != nil {
			t.Join(*ev.Presence)
		}
	case realtime.KindPresenceLeave:
		if ev.Presence != nil {
			t.Leave(*ev.Presence)
		}
	case realtime.KindPresenceSync:
		t.Sync(ev.Snapshot)
	default:
		return false
	}
	return true
}
