// Package metrics exposes prometheus collectors for the chat registry and room.
//
// All methods are safe to call on a nil *Metrics, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatroom"

// Metrics groups the collectors updated by the registry and the room.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Joins             prometheus.Counter
	Leaves            prometheus.Counter
	Broadcasts        prometheus.Counter
	Deliveries        prometheus.Counter
	DeadPeers         prometheus.Counter
	Frames            *prometheus.CounterVec
}

// New registers the chat collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of connections currently registered.",
		}),
		Joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Connections registered since start.",
		}),
		Leaves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaves_total",
			Help:      "Connections removed by Leave since start.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast calls since start.",
		}),
		Deliveries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Messages accepted by outbound channels.",
		}),
		DeadPeers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_peers_pruned_total",
			Help:      "Connections pruned because their outbound channel was closed or full.",
		}),
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Inbound client frames by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SetActive records the current registry size.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.ActiveConnections.Set(float64(n))
}

// Joined counts one registration.
func (m *Metrics) Joined() {
	if m == nil {
		return
	}
	m.Joins.Inc()
}

// Left counts one removal.
func (m *Metrics) Left() {
	if m == nil {
		return
	}
	m.Leaves.Inc()
}

// Broadcast counts one fan-out and its outcome.
func (m *Metrics) Broadcast(delivered, pruned int) {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
	m.Deliveries.Add(float64(delivered))
	m.DeadPeers.Add(float64(pruned))
}

// Pruned counts dead peers removed outside of a broadcast.
func (m *Metrics) Pruned(n int) {
	if m == nil {
		return
	}
	m.DeadPeers.Add(float64(n))
}

// Frame counts one inbound frame with the given outcome label
// (chat, nick, help, usage, malformed, empty, rate_limited, evicted).
func (m *Metrics) Frame(outcome string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(outcome).Inc()
}
