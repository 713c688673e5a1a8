// Package metrics groups the Prometheus instruments of the avatar runtime.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the avatar.
type Metrics struct {
	registry *prometheus.Registry

	Sessions         *prometheus.CounterVec
	SessionState     *prometheus.GaugeVec
	StaleResponses   prometheus.Counter
	RequestFailures  *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	ResolverFallback *prometheus.CounterVec
	FrameSample      prometheus.Histogram
	StreamClients    prometheus.Gauge
}

// New registers the instruments on a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Playback sessions started, by source.",
		}, []string{"source"}),
		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
		StaleResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Backend responses dropped because a newer session started.",
		}),
		RequestFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_failures_total",
			Help:      "Failed speak requests by endpoint.",
		}, []string{"endpoint"}),
		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_ms",
			Help:      "Speak request latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"endpoint"}),
		ResolverFallback: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_fallbacks_total",
			Help:      "Assets rendered with the procedural head, by reason.",
		}, []string{"reason"}),
		FrameSample: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_sample_seconds",
			Help:      "Time spent sampling and binding one frame.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected frame stream viewers.",
		}),
	}
}

// SetState marks state as the current session state.
func (m *Metrics) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ObserveRequest(endpoint string, d time.Duration) {
	m.RequestLatency.WithLabelValues(endpoint).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFrame(d time.Duration) {
	m.FrameSample.Observe(d.Seconds())
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
