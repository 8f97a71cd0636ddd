// Package auth authenticates chat participants for chatdesk.
//
// # Tokens
//
// Customers and admins present HS256 JWTs issued by the identity provider
// (or by `chatdesk token` in development). Claims:
//
//   - sub: participant ID (customer ID for users)
//   - role: "user" or "admin"
//   - name: display name attached to sent messages (defaults to sub)
//
// The secret comes from auth.jwt_secret and must be at least 32 bytes.
//
// # HTTP
//
// HTTPAuthMiddleware reads the token from the Authorization header, or from
// ?token= when no header is present (browser WebSocket and EventSource
// clients cannot set headers). The verified conversation.Participant is
// attached to the request context:
//
//	p, ok := auth.FromContext(r.Context())
//
// RequireAdminHTTP gates admin-only routes such as the notification stream.
package auth
