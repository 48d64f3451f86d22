package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects session and relay metrics on a private registry. It
// satisfies the gamesession and gateway MetricsCollector interfaces.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreated prometheus.Counter
	devicesJoined   prometheus.Counter
	gamesStarted    prometheus.Counter
	sessionsEvicted prometheus.Counter
	connections     prometheus.Gauge
	eventsRelayed   *prometheus.CounterVec
	negativeAcks    *prometheus.CounterVec
	droppedMessages prometheus.Counter
}

// New registers every collector under namespace. sessionCount reports the
// number of sessions held in memory and may be nil.
func New(namespace string, sessionCount func() int) *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:        r,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sessions_created_total"}),
		devicesJoined:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "devices_joined_total"}),
		gamesStarted:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "games_started_total"}),
		sessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sessions_evicted_total"}),
		connections:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_connections"}),
		eventsRelayed:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "events_relayed_total"}, []string{"event"}),
		negativeAcks:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "negative_acks_total"}, []string{"event"}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "dropped_messages_total"}),
	}
	r.MustRegister(
		m.sessionsCreated, m.devicesJoined, m.gamesStarted, m.sessionsEvicted,
		m.connections, m.eventsRelayed, m.negativeAcks, m.droppedMessages,
	)

	if sessionCount != nil {
		r.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: "active_sessions"},
			func() float64 { return float64(sessionCount()) },
		))
	}
	return m
}

func (m *Metrics) RecordSessionCreated() { m.sessionsCreated.Inc() }
func (m *Metrics) RecordDeviceJoined()   { m.devicesJoined.Inc() }
func (m *Metrics) RecordGameStarted()    { m.gamesStarted.Inc() }

func (m *Metrics) RecordSessionsEvicted(n int) {
	m.sessionsEvicted.Add(float64(n))
}

func (m *Metrics) RecordConnectionOpened() { m.connections.Inc() }
func (m *Metrics) RecordConnectionClosed() { m.connections.Dec() }

func (m *Metrics) RecordEventRelayed(event string) {
	m.eventsRelayed.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordNegativeAck(event string) {
	m.negativeAcks.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordDroppedMessage() { m.droppedMessages.Inc() }

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
