// Package gateway orchestrates the chatdesk server components.
//
// # Overview
//
// The gateway owns the store, the realtime hub, the conversation service
// and the session registry, and serves them over one HTTP listener.
// Every route except health and metrics requires a participant JWT.
//
// # HTTP API
//
//   - POST /api/enquiries - create an enquiry owned by the caller
//   - POST /api/enquiries/{id}/conversation - get or create its conversation
//   - GET /api/conversations/{id}/messages - list messages, oldest first
//   - POST /api/conversations/{id}/messages - send a message
//   - POST /api/conversations/{id}/read - mark the other side's messages read
//   - GET /ws/conversations/{id} - WebSocket conversation session
//   - GET /api/admin/notifications - SSE alert stream (admin only)
//   - GET /healthz - liveness check
//
// Errors are JSON bodies of the form {"error": "..."}. A conversation the
// caller may not see is reported as not found.
//
// # WebSocket Sessions
//
// Each connection acquires a shared session from the registry, so two tabs
// of the same participant reuse one subscription. The first frame is a
// snapshot; after that session updates are forwarded as they happen. A
// failed send answers with send_failed carrying the original text.
//
// # Notifications
//
// Each admin stream runs its own fan-out. Alerts arrive as two events:
//
//	event: chime
//	data: {}
//
//	event: notification
//	data: {"id":"...","kind":"message","title":"...","body":"...","link":"..."}
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown ends open streams, closes sessions (releasing presence), then
// the hub and store.
package gateway
