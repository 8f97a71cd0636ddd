// Package session binds one viewer to one conversation.
//
// # Lifecycle
//
// Open checks that the participant may see the conversation, subscribes to
// its realtime topic, loads existing messages and announces presence.
// Close undoes all of it. After Close returns no timer fires and no event
// handler runs.
//
//	s, err := session.Open(ctx, session.Config{
//	    Service:     svc,
//	    Hub:         hub,
//	    Participant: p,
//	}, conversationID)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// # Message List
//
// Messages are kept in created_at order and deduplicated by id. A message
// the session sent itself is inserted from the write path and its channel
// echo is dropped. Updates for unknown ids are dropped; read_at is never
// cleared by a stale update. If the hub drops events for the session it
// reloads the list and the presence snapshot, merging through the same
// dedup path.
//
// # Sending
//
// SendMessage returns a *SendError carrying the original text on failure.
// Non-validation failures leave a Pending local echo that is retried
// before the next explicit send.
//
// # Registry
//
// Registry shares sessions per participant role, id and conversation so a viewer
// with two sockets on the same conversation holds one subscription.
package session
