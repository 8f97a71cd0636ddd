// Package receipt marks inbound messages as read on behalf of one viewer.
//
// A session calls Schedule for each message authored by the other role.
// Ids are batched and written after a short debounce, so a burst of
// messages becomes one MarkRead call. MarkAll marks everything unread in
// the conversation, used when an admin opens a conversation with a
// nonzero unread counter.
//
// Writes run in the background so a slow write never delays message
// display. A failed batch is requeued and retried when the next inbound
// message arms the timer again; there is no retry loop.
package receipt
