// Package metrics exposes CNCMate's Prometheus instruments.
//
// Every method is safe to call on a nil *Metrics so components can be
// built without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	samplesReceived  *prometheus.CounterVec
	samplesApplied   *prometheus.CounterVec
	samplesDropped   *prometheus.CounterVec
	applyLatency     prometheus.Histogram
	wsConnections    prometheus.Gauge
	broadcastEvents  *prometheus.CounterVec
	wsDropped        *prometheus.CounterVec
	aggregatorErrors prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the instruments and registers them on reg. When reg is also
// a Gatherer (a *prometheus.Registry is both) Handler serves it; otherwise
// Handler serves the default gatherer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samplesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cncmate_samples_received_total",
			Help: "Telemetry samples handed to the applier, by source.",
		}, []string{"source"}),
		samplesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cncmate_samples_applied_total",
			Help: "Samples persisted and broadcast, by metric.",
		}, []string{"metric"}),
		samplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cncmate_samples_dropped_total",
			Help: "Samples discarded before broadcast, by reason.",
		}, []string{"reason"}),
		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cncmate_apply_latency_seconds",
			Help:    "Time from dequeued sample to broadcast.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cncmate_ws_connections",
			Help: "Currently registered dashboard connections.",
		}),
		broadcastEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cncmate_broadcast_events_total",
			Help: "Events fanned out to dashboards, by event type.",
		}, []string{"type"}),
		wsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cncmate_ws_dropped_messages_total",
			Help: "Outbound messages lost to slow or closed connections, by policy.",
		}, []string{"policy"}),
		aggregatorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cncmate_aggregator_failures_total",
			Help: "Aggregation ticks skipped because the store read failed.",
		}),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.samplesReceived, m.samplesApplied, m.samplesDropped, m.applyLatency,
		m.wsConnections, m.broadcastEvents, m.wsDropped, m.aggregatorErrors,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SampleReceived(source string) {
	if m == nil {
		return
	}
	m.samplesReceived.WithLabelValues(source).Inc()
}

func (m *Metrics) SampleApplied(metric string, took time.Duration) {
	if m == nil {
		return
	}
	m.samplesApplied.WithLabelValues(metric).Inc()
	m.applyLatency.Observe(took.Seconds())
}

// SampleDropped counts a sample that never reached the dashboards.
// Reasons used: invalid, unknown_machine, store_error, stopped.
func (m *Metrics) SampleDropped(reason string) {
	if m == nil {
		return
	}
	m.samplesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.wsConnections.Set(float64(n))
}

func (m *Metrics) EventBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.broadcastEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) MessageDropped(policy string) {
	if m == nil {
		return
	}
	m.wsDropped.WithLabelValues(policy).Inc()
}

func (m *Metrics) AggregatorFailed() {
	if m == nil {
		return
	}
	m.aggregatorErrors.Inc()
}
