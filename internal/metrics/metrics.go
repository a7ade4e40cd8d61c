// Package metrics expone los contadores Prometheus del chat.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resultados posibles de Resolve.
const (
	ResolveFound   = "found"
	ResolveCreated = "created"
	ResolveRaced   = "raced"
)

// Metrics agrupa las metricas del servicio. Un *Metrics nil es valido y no registra nada.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	MessagesSentTotal    *prometheus.CounterVec
	ResolveOutcomesTotal *prometheus.CounterVec
	ReadsMarkedTotal     prometheus.Counter
	NotifyFailuresTotal  prometheus.Counter

	FanoutDeliveriesTotal prometheus.Counter
	ActiveSubscriptions   prometheus.Gauge
	RelayConnected        prometheus.Gauge
	RelayReconnectsTotal  prometheus.Counter
}

// New registra las metricas en reg. En produccion reg es prometheus.DefaultRegisterer;
// los tests pasan un prometheus.NewRegistry() para no chocar con registros previos.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.MessagesSentTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of persisted messages",
		},
		[]string{"kind"},
	)

	m.ResolveOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_resolve_outcomes_total",
			Help: "Conversation resolutions by outcome (found, created, raced)",
		},
		[]string{"outcome"},
	)

	m.ReadsMarkedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_marked_read_total",
			Help: "Total number of messages flipped to read",
		},
	)

	m.NotifyFailuresTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_notify_failures_total",
			Help: "Notifications that could not be enqueued",
		},
	)

	m.FanoutDeliveriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fanout_deliveries_total",
			Help: "Events delivered to local subscribers",
		},
	)

	m.ActiveSubscriptions = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_subscriptions",
			Help: "Live realtime subscriptions on this node",
		},
	)

	m.RelayConnected = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_relay_connected",
			Help: "1 when the cross-node relay subscription is healthy",
		},
	)

	m.RelayReconnectsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_relay_reconnects_total",
			Help: "Times the relay re-established its subscription",
		},
	)

	return m
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordMessageSent(kind string) {
	if m == nil {
		return
	}
	m.MessagesSentTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordResolve(outcome string) {
	if m == nil {
		return
	}
	m.ResolveOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordMarkedRead(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReadsMarkedTotal.Add(float64(n))
}

func (m *Metrics) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.NotifyFailuresTotal.Inc()
}

func (m *Metrics) RecordDelivery() {
	if m == nil {
		return
	}
	m.FanoutDeliveriesTotal.Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Dec()
}

// SetRelayConnected refleja el estado del relay.
func (m *Metrics) SetRelayConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.RelayConnected.Set(1)
		return
	}
	m.RelayConnected.Set(0)
}

func (m *Metrics) RecordRelayReconnect() {
	if m == nil {
		return
	}
	m.RelayReconnectsTotal.Inc()
}
