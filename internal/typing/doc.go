// Package typing implements the transient "is typing" signal.
//
// The sender side is a Debouncer: the first keystroke of a burst broadcasts
// typing=true and each keystroke pushes back a quiet-period timer (1s by
// default) that broadcasts typing=false.
//
// The receiver side is an Indicator, an Idle/Active state machine. A
// typing=true from the other role goes Active and arms an expiry timer (3s
// by default) that returns to Idle even if typing=false never arrives.
// Signals from the viewer's own role are ignored.
//
// Both types call their callback while holding their own lock and check a
// generation counter in timer callbacks, so once Stop returns no callback
// runs.
package typing
