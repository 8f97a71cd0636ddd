// Package notify raises admin alerts for new enquiries and customer
// messages.
//
// Each admin browsing session starts its own Fanout, so every session is
// alerted once per new item regardless of how many admins are connected
// or which conversation, if any, they have open. A Fanout subscribes to
// the enquiry and message table topics, ignores admin-authored messages,
// and deduplicates by key for its lifetime:
//
//	enquiry:<enquiry id>
//	<conversation id>:<message id>
//
// Rendering goes through an Alerter. Chime and toast failures are wrapped
// in ErrDelivery, logged at debug, and never surfaced.
package notify
