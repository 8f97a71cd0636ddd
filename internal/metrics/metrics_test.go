// ABOUTME: Tests for the Prometheus collectors
// ABOUTME: Scrapes the handler and checks counters plus nil-receiver safety

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatdesk/internal/conversation"
	"github.com/2389/chatdesk/internal/notify"
	"github.com/2389/chatdesk/internal/realtime"
	"github.com/2389/chatdesk/internal/session"
)

// Compile-time checks that Metrics satisfies every observer it is wired to.
var (
	_ realtime.Observer     = (*Metrics)(nil)
	_ session.Observer      = (*Metrics)(nil)
	_ notify.Observer       = (*Metrics)(nil)
	_ conversation.Observer = (*Metrics)(nil)
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_RecordsAndExposes(t *testing.T) {
	m := New()

	m.EventPublished("message_inserted")
	m.EventPublished("message_inserted")
	m.EventDropped("typing")
	m.SubscriptionsChanged(3)
	m.SubscriptionsChanged(-1)
	m.SessionOpened("admin")
	m.SessionOpened("user")
	m.SessionClosed("user")
	m.NotificationRaised("enquiry")
	m.MessageRecorded("user")
	m.ReceiptsRecorded(4)
	m.ObserveRequest("GET /healthz", 200, 5*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `chatdesk_events_published_total{kind="message_inserted"} 2`)
	assert.Contains(t, body, `chatdesk_events_dropped_total{kind="typing"} 1`)
	assert.Contains(t, body, "chatdesk_subscriptions 2")
	assert.Contains(t, body, `chatdesk_sessions_open{role="admin"} 1`)
	assert.Contains(t, body, `chatdesk_sessions_open{role="user"} 0`)
	assert.Contains(t, body, `chatdesk_notifications_total{kind="enquiry"} 1`)
	assert.Contains(t, body, `chatdesk_messages_recorded_total{role="user"} 1`)
	assert.Contains(t, body, "chatdesk_read_receipts_total 4")
	assert.Contains(t, body, `chatdesk_http_requests_total{code="200",route="GET /healthz"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ReceiptsRecorded(1)

	assert.Contains(t, scrape(t, a), "chatdesk_read_receipts_total 1")
	assert.Contains(t, scrape(t, b), "chatdesk_read_receipts_total 0")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EventPublished("x")
		m.EventDropped("x")
		m.SubscriptionsChanged(1)
		m.SessionOpened("admin")
		m.SessionClosed("admin")
		m.NotificationRaised("message")
		m.MessageRecorded("user")
		m.ReceiptsRecorded(1)
		m.ObserveRequest("r", 200, time.Second)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
