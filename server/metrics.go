package server

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Ops     *prometheus.CounterVec
	Errors  *prometheus.CounterVec
	Clients prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seqcrdt",
			Name:      "operations_total",
			Help:      "Edits and merges applied, by kind",
		}, []string{"op"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seqcrdt",
			Name:      "operation_errors_total",
			Help:      "Rejected edits and merges, by kind",
		}, []string{"op"}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "seqcrdt",
			Name:      "websocket_clients",
			Help:      "Connected websocket clients",
		}),
	}
}

func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Ops, m.Errors, m.Clients} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// The recording helpers below are no-ops on a nil *Metrics, so a Server can
// run without metrics.

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Errors.WithLabelValues(op).Inc()
		return
	}
	m.Ops.WithLabelValues(op).Inc()
}

func (m *Metrics) clientJoined() {
	if m != nil {
		m.Clients.Inc()
	}
}

func (m *Metrics) clientLeft() {
	if m != nil {
		m.Clients.Dec()
	}
}
