// SPDX-License-Identifier: MPL-2.0

package rendezvous

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "criu_coordinator"

// Metrics is a Prometheus-backed Observer.
type Metrics struct {
	arrivals     *prometheus.CounterVec
	releases     *prometheus.CounterVec
	groupSize    *prometheus.HistogramVec
	waitDuration *prometheus.HistogramVec
	retractions  *prometheus.CounterVec
	merges       *prometheus.CounterVec
	aborts       *prometheus.CounterVec
	pruned       prometheus.Counter
	openBarriers prometheus.Gauge
	entities     prometheus.Gauge
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rendezvous",
			Name:      "arrivals_total",
			Help:      "Phase arrivals admitted by the engine.",
		}, []string{"phase"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rendezvous",
			Name:      "releases_total",
			Help:      "Groups released after every member arrived.",
		}, []string{"phase"}),
		groupSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "rendezvous",
			Name:      "group_size",
			Help:      "Number of members per released group.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}, []string{"phase"}),
		waitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "rendezvous",
			Name:      "barrier_open_seconds",
			Help:      "Time from the first arrival to the release of a group.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		retractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rendezvous",
			Name:      "retractions_total",
			Help:      "Waiters that left before release, by outcome.",
		}, []string{"phase", "outcome"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rendezvous",
			Name:      "merges_total",
			Help:      "Barriers merged because their closures overlapped.",
		}, []string{"phase"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rendezvous",
			Name:      "aborts_total",
			Help:      "Barriers dropped with an aborted outcome.",
		}, []string{"phase"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "registry",
			Name:      "pruned_total",
			Help:      "Idle entities removed from the registry.",
		}),
		openBarriers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "rendezvous",
			Name:      "open_barriers",
			Help:      "Barriers currently waiting for members.",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "registry",
			Name:      "entities",
			Help:      "Entities currently known to the registry.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.arrivals, m.releases, m.groupSize, m.waitDuration, m.retractions,
		m.merges, m.aborts, m.pruned, m.openBarriers, m.entities,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Arrived implements Observer.
func (m *Metrics) Arrived(phase Phase) {
	m.arrivals.WithLabelValues(string(phase)).Inc()
}

// Released implements Observer.
func (m *Metrics) Released(phase Phase, members int, waited time.Duration) {
	p := string(phase)
	m.releases.WithLabelValues(p).Inc()
	m.groupSize.WithLabelValues(p).Observe(float64(members))
	m.waitDuration.WithLabelValues(p).Observe(waited.Seconds())
}

// Retracted implements Observer.
func (m *Metrics) Retracted(phase Phase, outcome Outcome) {
	m.retractions.WithLabelValues(string(phase), outcome.String()).Inc()
}

// Merged implements Observer.
func (m *Metrics) Merged(phase Phase) {
	m.merges.WithLabelValues(string(phase)).Inc()
}

// Aborted implements Observer.
func (m *Metrics) Aborted(phase Phase) {
	m.aborts.WithLabelValues(string(phase)).Inc()
}

// Pruned implements Observer.
func (m *Metrics) Pruned(n int) { m.pruned.Add(float64(n)) }

// Gauges implements Observer.
func (m *Metrics) Gauges(openBarriers, entities int) {
	m.openBarriers.Set(float64(openBarriers))
	m.entities.Set(float64(entities))
}
