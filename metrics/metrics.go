// Package metrics provides Prometheus metrics for Ben-Or nodes.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by every node of a process.
// Series are labelled by node id. A nil *Metrics records nothing.
type Metrics struct {
	MessagesReceived  *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec
	BroadcastsTotal   *prometheus.CounterVec
	BroadcastFailures *prometheus.CounterVec

	CurrentRound *prometheus.GaugeVec

	Decisions        *prometheus.CounterVec
	RoundsToDecision prometheus.Histogram
}

// DefaultMetrics registers with the default Prometheus registry.
var DefaultMetrics = NewMetrics("benor", prometheus.DefaultRegisterer)

// NewMetrics creates collectors under namespace and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Protocol messages accepted into a round inbox",
		}, []string{"node", "phase"}),
		MessagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Protocol messages dropped, by reason",
		}, []string{"node", "reason"}),
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcasts issued, by phase",
		}, []string{"node", "phase"}),
		BroadcastFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Broadcasts where at least one peer could not be reached",
		}, []string{"node"}),

		CurrentRound: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_round",
			Help:      "Current round of the node",
		}, []string{"node"}),

		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions reached, by decided value",
		}, []string{"node", "value"}),
		RoundsToDecision: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rounds_to_decision",
			Help:      "Number of rounds a node needed to decide",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13, 21, 34},
		}),
	}
}

func node(id int) string {
	return strconv.Itoa(id)
}

// RecordReceived records a message accepted into an inbox.
func (m *Metrics) RecordReceived(id int, phase string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(node(id), phase).Inc()
}

// RecordRejected records a dropped message.
func (m *Metrics) RecordRejected(id int, reason string) {
	if m == nil {
		return
	}
	m.MessagesRejected.WithLabelValues(node(id), reason).Inc()
}

// RecordBroadcast records a broadcast and whether any send failed.
func (m *Metrics) RecordBroadcast(id int, phase string, failed bool) {
	if m == nil {
		return
	}
	m.BroadcastsTotal.WithLabelValues(node(id), phase).Inc()
	if failed {
		m.BroadcastFailures.WithLabelValues(node(id)).Inc()
	}
}

// UpdateRound sets the round gauge.
func (m *Metrics) UpdateRound(id int, round uint64) {
	if m == nil {
		return
	}
	m.CurrentRound.WithLabelValues(node(id)).Set(float64(round))
}

// RecordDecision records a decision taken in the given round.
func (m *Metrics) RecordDecision(id int, value string, round uint64) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(node(id), value).Inc()
	m.RoundsToDecision.Observe(float64(round))
}
