package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sergioferragut/from-kafka-to-polaris/sender"
)

const namespace = "polaris_push"

// Metrics are the Prometheus series updated for every dispatched batch.
type Metrics struct {
	Batches  *prometheus.CounterVec
	Events   *prometheus.CounterVec
	Bytes    prometheus.Counter
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewMetrics creates the series and registers them with reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches dispatched, by outcome.",
		}, []string{"outcome"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events dispatched, by outcome.",
		}, []string{"outcome"}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Request body bytes dispatched.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Push request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"outcome"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Push requests currently in flight.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Batches, m.Events, m.Bytes, m.Duration, m.InFlight)
	}
	return m
}

func (m *Metrics) observe(r Result) {
	kind := r.Outcome.Kind.String()
	m.Batches.WithLabelValues(kind).Inc()
	m.Events.WithLabelValues(kind).Add(float64(r.Batch.Count))
	m.Bytes.Add(float64(r.Batch.Size))
	if r.Outcome.Kind != sender.TransportFailed || r.Outcome.Elapsed > 0 {
		m.Duration.WithLabelValues(kind).Observe(r.Outcome.Elapsed.Seconds())
	}
}
