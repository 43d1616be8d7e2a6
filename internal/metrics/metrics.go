package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trafficlens"

// Metrics holds every Prometheus collector the pipeline updates.
type Metrics struct {
	PacketsReceived    *prometheus.CounterVec
	PacketsAccepted    prometheus.Counter
	PacketsFiltered    prometheus.Counter
	BytesAccepted      prometheus.Counter
	SourceErrors       *prometheus.CounterVec
	Anomalies          *prometheus.CounterVec
	ScoringUnavailable prometheus.Counter
	PersistenceErrors  *prometheus.CounterVec
	PacketsDropped     prometheus.Counter
	PublishTicks       prometheus.Counter
	CaptureState       prometheus.Gauge
	Observers          prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Packet records received from capture sources.",
		}, []string{"source"}),
		PacketsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_accepted_total",
			Help:      "Packet records that passed the filter and were counted.",
		}),
		PacketsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_filtered_total",
			Help:      "Packet records rejected by the filter.",
		}),
		BytesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_accepted_total",
			Help:      "Bytes of accepted packet records.",
		}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_source_errors_total",
			Help:      "Capture sources that terminated with an error.",
		}, []string{"source"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Anomalies emitted, by kind.",
		}, []string{"kind"}),
		ScoringUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scoring_unavailable_total",
			Help:      "Evaluation cycles where the outlier scorer could not be used.",
		}),
		PersistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Durable store writes that failed or were dropped, by row kind.",
		}, []string{"kind"}),
		PacketsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_rows_dropped_total",
			Help:      "Raw packet rows dropped because the write buffer was full.",
		}),
		PublishTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_ticks_total",
			Help:      "Snapshot publisher cycles completed.",
		}),
		CaptureState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_state",
			Help:      "Capture coordinator state (0 idle, 1 starting, 2 running, 3 stopping).",
		}),
		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_observers",
			Help:      "Connected WebSocket observers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PacketsReceived, m.PacketsAccepted, m.PacketsFiltered, m.BytesAccepted,
			m.SourceErrors, m.Anomalies, m.ScoringUnavailable, m.PersistenceErrors,
			m.PacketsDropped, m.PublishTicks, m.CaptureState, m.Observers,
		)
	}
	return m
}
