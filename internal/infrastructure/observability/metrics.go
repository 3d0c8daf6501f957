package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry           *prometheus.Registry
	InflightRequests   prometheus.Gauge
	QueueDepth         prometheus.Gauge
	CapturedTotal      prometheus.Counter
	PersistedTotal     prometheus.Counter
	EvictionsTotal     prometheus.Counter
	DroppedTotal       *prometheus.CounterVec
	ReplayErrorsTotal  prometheus.Counter
	PersistErrorsTotal prometheus.Counter
	FlushesTotal       prometheus.Counter
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		InflightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "request_recorder",
			Name:      "inflight_requests",
			Help:      "Requests currently in the correlation table",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "request_recorder",
			Name:      "save_queue_depth",
			Help:      "Records waiting for the next persistence flush",
		}),
		CapturedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "request_recorder",
			Name:      "requests_captured_total",
			Help:      "Total requests entered into the correlation table",
		}),
		PersistedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "request_recorder",
			Name:      "requests_persisted_total",
			Help:      "Total records written to session storage",
		}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "request_recorder",
			Name:      "inflight_evictions_total",
			Help:      "Total in-flight records evicted by the memory guard",
		}),
		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "request_recorder",
			Name:      "records_dropped_total",
			Help:      "Total records dropped before persistence by reason",
		}, []string{"reason"}),
		ReplayErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "request_recorder",
			Name:      "replay_errors_total",
			Help:      "Total replay attempts that ended error-shaped",
		}),
		PersistErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "request_recorder",
			Name:      "persist_errors_total",
			Help:      "Total single-record persistence failures",
		}),
		FlushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "request_recorder",
			Name:      "flushes_total",
			Help:      "Total persistence flush cycles",
		}),
	}
	r.MustRegister(
		m.InflightRequests, m.QueueDepth, m.CapturedTotal, m.PersistedTotal,
		m.EvictionsTotal, m.DroppedTotal, m.ReplayErrorsTotal,
		m.PersistErrorsTotal, m.FlushesTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
