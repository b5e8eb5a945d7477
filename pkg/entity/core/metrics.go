package core

import (
	"time"

	"github.com/jabolina/go-entity/pkg/entity/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics of a single manager. Collectors are registered on the
// configured registerer, or on a private registry.
type Metrics struct {
	messages      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	resends       prometheus.Counter
	inFlight      prometheus.Gauge
	endpoints     prometheus.Gauge
	state         prometheus.Gauge
	admissionWait prometheus.Histogram
}

func NewMetrics(name string, registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"client": name}
	m := &Metrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "entity",
				Subsystem:   "client",
				Name:        "messages_total",
				Help:        "Messages handed to the channel, by type.",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "entity",
				Subsystem:   "client",
				Name:        "failures_total",
				Help:        "Messages completed with an error, by type.",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		resends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "entity",
			Subsystem:   "client",
			Name:        "resends_total",
			Help:        "Messages replayed during handshakes.",
			ConstLabels: labels,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "entity",
			Subsystem:   "client",
			Name:        "in_flight",
			Help:        "Messages sent and not yet retired.",
			ConstLabels: labels,
		}),
		endpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "entity",
			Subsystem:   "client",
			Name:        "endpoints",
			Help:        "Live entity endpoints.",
			ConstLabels: labels,
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "entity",
			Subsystem:   "client",
			Name:        "connection_state",
			Help:        "Current connection state of the manager.",
			ConstLabels: labels,
		}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "entity",
			Subsystem:   "client",
			Name:        "admission_wait_seconds",
			Help:        "Time waiting for an in flight permit.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
	}
	registerer.MustRegister(m.messages, m.failures, m.resends, m.inFlight, m.endpoints, m.state, m.admissionWait)
	return m
}

func (m *Metrics) recordSent(t types.MessageType) {
	m.messages.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) recordFailure(t types.MessageType) {
	m.failures.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) recordResends(count int) {
	m.resends.Add(float64(count))
}

func (m *Metrics) recordAdmission(wait time.Duration) {
	m.admissionWait.Observe(wait.Seconds())
}

func (m *Metrics) setInFlight(count int) {
	m.inFlight.Set(float64(count))
}

func (m *Metrics) setEndpoints(count int) {
	m.endpoints.Set(float64(count))
}

func (m *Metrics) setState(state ConnectionState) {
	m.state.Set(float64(state))
}
