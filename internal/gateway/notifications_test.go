// ABOUTME: Tests for the admin SSE notification stream and its alerter
// ABOUTME: Verifies enquiry and message alerts, role gating and writes after close

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatdesk/internal/notify"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Event string
	Data  string
}

// openStream connects to the notification stream and returns parsed
// events once the ": connected" comment has arrived.
func openStream(t *testing.T, srv *httptest.Server, token string) <-chan sseEvent {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/admin/notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan sseEvent, 16)
	connected := make(chan struct{})
	go func() {
		defer resp.Body.Close()
		defer close(events)

		scanner := bufio.NewScanner(resp.Body)
		var cur sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == ": connected":
				close(connected)
			case strings.HasPrefix(line, "event: "):
				cur.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				cur.Data = strings.TrimPrefix(line, "data: ")
			case line == "" && cur.Event != "":
				events <- cur
				cur = sseEvent{}
			}
		}
	}()

	select {
	case <-connected:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not connect")
	}
	return events
}

// nextNotification returns the next "notification" event's item.
func nextNotification(t *testing.T, events <-chan sseEvent) notify.Item {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed")
			if ev.Event != "notification" {
				continue
			}
			var item notify.Item
			require.NoError(t, json.Unmarshal([]byte(ev.Data), &item))
			return item
		case <-timeout:
			t.Fatal("timed out waiting for notification")
			return notify.Item{}
		}
	}
}

func TestNotifications_EnquiryAndMessage(t *testing.T) {
	gw, srv := newTestGateway(t)
	events := openStream(t, srv, tokenFor(t, gw, admin))

	conv := openConversation(t, gw, srv, alice)

	item := nextNotification(t, events)
	assert.Equal(t, notify.KindEnquiry, item.Kind)
	assert.Equal(t, "/admin/enquiries/"+conv.EnquiryID, item.Link)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/conversations/"+conv.ID+"/messages",
		tokenFor(t, gw, alice), SendMessageRequest{Text: "is anyone there?"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	item = nextNotification(t, events)
	assert.Equal(t, notify.KindMessage, item.Kind)
	assert.Contains(t, item.Title, "Alice")
	assert.Equal(t, "is anyone there?", item.Body)
	assert.Equal(t, "/admin/enquiries/"+conv.EnquiryID+"/chat", item.Link)
}

func TestNotifications_IgnoresAdminMessages(t *testing.T) {
	gw, srv := newTestGateway(t)
	conv := openConversation(t, gw, srv, alice)
	events := openStream(t, srv, tokenFor(t, gw, admin))

	doJSON(t, http.MethodPost, srv.URL+"/api/conversations/"+conv.ID+"/messages",
		tokenFor(t, gw, admin), SendMessageRequest{Text: "reply"}, nil)
	doJSON(t, http.MethodPost, srv.URL+"/api/conversations/"+conv.ID+"/messages",
		tokenFor(t, gw, alice), SendMessageRequest{Text: "thanks"}, nil)

	item := nextNotification(t, events)
	assert.Equal(t, "thanks", item.Body, "admin replies never alert")
}

func TestNotifications_AdminOnly(t *testing.T) {
	gw, srv := newTestGateway(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/admin/notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, gw, alice))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSSEAlerter(t *testing.T) {
	rec := httptest.NewRecorder()
	a := &sseAlerter{w: rec, flusher: rec}

	require.NoError(t, a.Chime(context.Background()))
	require.NoError(t, a.Toast(context.Background(), notify.Item{ID: "enquiry:1", Kind: notify.KindEnquiry, Title: "New enquiry"}))

	body := rec.Body.String()
	assert.Contains(t, body, "event: chime\ndata: {}\n\n")
	assert.Contains(t, body, "event: notification\ndata: {")
	assert.Contains(t, body, `"title":"New enquiry"`)
	assert.True(t, rec.Flushed)

	a.close()
	assert.ErrorIs(t, a.Chime(context.Background()), errStreamClosed)
	assert.ErrorIs(t, a.Toast(context.Background(), notify.Item{}), errStreamClosed)
}

func TestFormatSSEEvent(t *testing.T) {
	assert.Equal(t, "event: chime\ndata: {}\n\n", formatSSEEvent("chime", "{}"))
}
