// ABOUTME: SSE endpoint streaming new-enquiry and new-message alerts to an admin browser
// ABOUTME: Runs one notification fan-out per connected admin and renders alerts as SSE events

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/2389/chatdesk/internal/auth"
	"github.com/2389/chatdesk/internal/notify"
)

// sseKeepAlive is how often an idle stream gets a comment line.
const sseKeepAlive = 30 * time.Second

// errStreamClosed is returned by the alerter after its stream has ended.
var errStreamClosed = errors.New("notification stream closed")

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// sseAlerter delivers fan-out alerts as SSE events. The chime is an
// event of its own so the browser can play a sound without a toast.
type sseAlerter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func (a *sseAlerter) Chime(ctx context.Context) error {
	return a.write("chime", []byte("{}"))
}

func (a *sseAlerter) Toast(ctx context.Context, item notify.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return a.write("notification", data)
}

func (a *sseAlerter) comment(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprintf(a.w, ": %s\n\n", text); err != nil {
		return err
	}
	a.flusher.Flush()
	return nil
}

func (a *sseAlerter) write(event string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errStreamClosed
	}
	if _, err := fmt.Fprint(a.w, formatSSEEvent(event, string(data))); err != nil {
		return err
	}
	a.flusher.Flush()
	return nil
}

// close stops further writes. The ResponseWriter is invalid once the
// handler returns.
func (a *sseAlerter) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// handleNotifications handles GET /api/admin/notifications. It streams
// alerts until the client disconnects or the server shuts down.
func (g *Gateway) handleNotifications(w http.ResponseWriter, r *http.Request) {
	p := auth.MustFromContext(r.Context())

	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	alerter := &sseAlerter{w: w, flusher: flusher}
	defer alerter.close()

	// Set SSE headers before the fan-out can write
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fanout, err := notify.Start(notify.Config{
		Hub:        g.hub,
		Resolver:   g.conversation,
		Alerter:    alerter,
		AdminID:    p.ID,
		DedupeSize: g.config.Notifications.DedupeSize,
		DedupeTTL:  g.config.Notifications.DedupeTTL,
		Logger:     g.logger,
		Observer:   g.metrics,
	})
	if err != nil {
		g.logger.Error("failed to start notifications", "admin_id", p.ID, "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "notifications unavailable")
		return
	}
	defer fanout.Close()

	if err := alerter.comment("connected"); err != nil {
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-g.closing:
			return
		case <-ticker.C:
			if err := alerter.comment("keep-alive"); err != nil {
				return
			}
		}
	}
}
