// ABOUTME: Sender-side typing debouncer
// ABOUTME: Emits one typing=true per burst of keystrokes and typing=false after a quiet period

package typing

import (
	"sync"
	"time"
)

// DefaultQuiet is how long after the last keystroke typing=false is sent.
const DefaultQuiet = time.Second

// Debouncer turns a stream of keystrokes into at most one true/false
// broadcast pair per burst. publish is called with the mutex held, so it
// must not block and must not call back into the Debouncer.
type Debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	publish func(isTyping bool)
	timer   *time.Timer
	active  bool
	gen     uint64
	stopped bool
}

// NewDebouncer creates a debouncer. A quiet <= 0 uses DefaultQuiet.
func NewDebouncer(quiet time.Duration, publish func(isTyping bool)) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Debouncer{quiet: quiet, publish: publish}
}

// Keystroke records activity. The first keystroke of a burst broadcasts
// typing=true; every keystroke pushes the typing=false deadline back.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if !d.active {
		d.active = true
		d.publish(true)
	}
	d.rearmLocked()
}

// Done ends the current burst immediately, e.g. after the message is sent.
func (d *Debouncer) Done() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.active {
		return
	}
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.active = false
	d.publish(false)
}

// Active reports whether a burst is in progress.
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Stop cancels the pending timer. No publish happens after Stop returns.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) rearmLocked() {
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A stale timer that lost the race with Stop or a newer keystroke.
	if d.stopped || gen != d.gen || !d.active {
		return
	}
	d.active = false
	d.publish(false)
}
