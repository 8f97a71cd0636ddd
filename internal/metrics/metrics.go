// ABOUTME: Prometheus collectors for the realtime conversation engine
// ABOUTME: Implements the hub, session, notify and conversation observer interfaces

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatdesk"

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on the global one. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	subscriptions   prometheus.Gauge
	sessionsOpen    *prometheus.GaugeVec
	notifications   *prometheus.CounterVec
	messages        *prometheus.CounterVec
	receipts        prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on realtime topics, by kind.",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped for slow subscribers, by kind.",
		}, []string{"kind"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Open realtime topic subscriptions.",
		}),
		sessionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Open conversation sessions, by viewer role.",
		}, []string{"role"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Admin alerts raised after dedup, by kind.",
		}, []string{"kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_recorded_total",
			Help:      "Messages recorded, by sender role.",
		}, []string{"role"}),
		receipts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_receipts_total",
			Help:      "Messages whose read_at was set.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsPublished,
		m.eventsDropped,
		m.subscriptions,
		m.sessionsOpen,
		m.notifications,
		m.messages,
		m.receipts,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventPublished implements realtime.Observer.
func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(kind).Inc()
}

// EventDropped implements realtime.Observer.
func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

// SubscriptionsChanged implements realtime.Observer.
func (m *Metrics) SubscriptionsChanged(delta int) {
	if m == nil {
		return
	}
	m.subscriptions.Add(float64(delta))
}

// SessionOpened implements session.Observer.
func (m *Metrics) SessionOpened(role string) {
	if m == nil {
		return
	}
	m.sessionsOpen.WithLabelValues(role).Inc()
}

// SessionClosed implements session.Observer.
func (m *Metrics) SessionClosed(role string) {
	if m == nil {
		return
	}
	m.sessionsOpen.WithLabelValues(role).Dec()
}

// NotificationRaised implements notify.Observer.
func (m *Metrics) NotificationRaised(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

// MessageRecorded implements conversation.Observer.
func (m *Metrics) MessageRecorded(role string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(role).Inc()
}

// ReceiptsRecorded implements conversation.Observer.
func (m *Metrics) ReceiptsRecorded(n int) {
	if m == nil {
		return
	}
	m.receipts.Add(float64(n))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
