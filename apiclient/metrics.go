package apiclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the session's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	timeouts  prometheus.Counter
	inbound   *prometheus.CounterVec
	events    *prometheus.CounterVec
	connected prometheus.Gauge
	connects  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer disables metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Requests sent to the API by resource, verb and result",
		}, []string{"resource", "verb", "result"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rescue",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Request/response round-trip duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 6},
		}, []string{"resource", "verb"}),

		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "api",
			Name:      "request_timeouts_total",
			Help:      "Requests that received no response before their deadline",
		}),

		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "api",
			Name:      "inbound_messages_total",
			Help:      "Inbound messages by classification",
		}, []string{"kind"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "api",
			Name:      "events_total",
			Help:      "Push events handled by name and result",
		}, []string{"event", "result"}),

		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rescue",
			Subsystem: "api",
			Name:      "connected",
			Help:      "1 while the session is open",
		}),

		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "api",
			Name:      "connects_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),
	}

	reg.MustRegister(m.requests, m.duration, m.timeouts, m.inbound, m.events, m.connected, m.connects)
	return m
}

func (m *Metrics) request(resource, verb, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(resource, verb, result).Inc()
	m.duration.WithLabelValues(resource, verb).Observe(d.Seconds())
	if result == "timeout" {
		m.timeouts.Inc()
	}
}

func (m *Metrics) message(kind string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(kind).Inc()
}

func (m *Metrics) event(name, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name, result).Inc()
}

func (m *Metrics) connect(result string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues(result).Inc()
}

func (m *Metrics) setConnected(open bool) {
	if m == nil {
		return
	}
	if open {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
