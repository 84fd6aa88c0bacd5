// SPDX-License-Identifier: MPL-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/checkpoint-restore/criu-coordinator/internal/protocol"
)

// metrics tracks the transport side; the engine reports barrier activity
// through its own collectors.
type metrics struct {
	connections prometheus.Counter
	active      prometheus.Gauge
	responses   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "criu_coordinator",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Accepted TCP connections.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "criu_coordinator",
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Sessions currently running on the worker pool.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "criu_coordinator",
			Subsystem: "server",
			Name:      "responses_total",
			Help:      "Status tokens written to callers.",
		}, []string{"status"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.connections, m.active, m.responses} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) responded(s protocol.Status) {
	m.responses.WithLabelValues(s.String()).Inc()
}
