// ABOUTME: Receiver-side typing indicator with automatic expiry
// ABOUTME: Shows the other role's typing state and clears it if typing=false is lost

package typing

import (
	"sync"
	"time"

	"github.com/2389/chatdesk/internal/store"
)

// DefaultExpiry is how long a typing=true is shown without a follow-up.
const DefaultExpiry = 3 * time.Second

// State of the receiver-side indicator.
type State int

const (
	Idle State = iota
	Active
)

// Indicator is the Idle/Active state machine for the other party's typing
// signal. At most one expiry timer is outstanding at a time. onChange is
// called with the mutex held on every Idle<->Active transition; it must not
// block and must not call back into the Indicator.
type Indicator struct {
	mu       sync.Mutex
	self     store.SenderType
	expiry   time.Duration
	onChange func(typing bool)
	state    State
	timer    *time.Timer
	gen      uint64
	stopped  bool
}

// NewIndicator creates an indicator for a viewer with role self. Signals
// from self are ignored. An expiry <= 0 uses DefaultExpiry.
func NewIndicator(self store.SenderType, expiry time.Duration, onChange func(typing bool)) *Indicator {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &Indicator{self: self, expiry: expiry, onChange: onChange}
}

// Observe applies a typing signal from role.
func (i *Indicator) Observe(role store.SenderType, isTyping bool) {
	if role == i.self {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopped {
		return
	}

	if !isTyping {
		i.cancelLocked()
		i.setLocked(Idle)
		return
	}

	i.cancelLocked()
	gen := i.gen
	i.timer = time.AfterFunc(i.expiry, func() { i.expire(gen) })
	i.setLocked(Active)
}

// Clear drops the indicator to Idle, e.g. when the other party's message
// arrives or it goes offline.
func (i *Indicator) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopped {
		return
	}
	i.cancelLocked()
	i.setLocked(Idle)
}

// Typing reports whether the indicator is Active.
func (i *Indicator) Typing() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == Active
}

// Stop cancels the expiry timer. No onChange happens after Stop returns.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.stopped = true
	i.cancelLocked()
}

func (i *Indicator) cancelLocked() {
	i.gen++
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}

func (i *Indicator) setLocked(s State) {
	if i.state == s {
		return
	}
	i.state = s
	i.onChange(s == Active)
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopped || gen != i.gen {
		return
	}
	i.timer = nil
	i.setLocked(Idle)
}
