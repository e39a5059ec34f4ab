// Package metrics exposes Prometheus instrumentation of the agent protocol.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bpcmon"

// Agent gauge states.
const (
	AgentsActive = "active"
	AgentsStale  = "stale"
)

// PrometheusMetrics holds the collector's metric vectors. All methods are
// safe on a nil receiver so callers may run without instrumentation.
type PrometheusMetrics struct {
	PushCounter      *prometheus.CounterVec
	StatusChanges    *prometheus.CounterVec
	CommandCounter   *prometheus.CounterVec
	AckCounter       *prometheus.CounterVec
	AuthFailures     *prometheus.CounterVec
	AgentGauge       *prometheus.GaugeVec
	RequestDurations *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the metrics and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		PushCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_pushes_total",
			Help:      "Data pushes received from agents by event type and result.",
		}, []string{"event_type", "result"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_status_changes_total",
			Help:      "Host state transitions reported by agents, by new state.",
		}, []string{"new_status"}),
		CommandCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_commands_total",
			Help:      "Agent commands by kind and stage (dispatched, delivered).",
		}, []string{"command", "stage"}),
		AckCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_command_acks_total",
			Help:      "Command acknowledgements received from agents.",
		}, []string{"status"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_auth_failures_total",
			Help:      "Agent requests rejected for a bad site id or token.",
		}, []string{"endpoint"}),
		AgentGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Sites with an agent token, by contact state.",
		}, []string{"state"}),
		RequestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Collector HTTP request latency by route and status class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}

	for _, c := range []prometheus.Collector{
		m.PushCounter, m.StatusChanges, m.CommandCounter, m.AckCounter,
		m.AuthFailures, m.AgentGauge, m.RequestDurations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// RecordPush counts an ingested push. result is "stored", "heartbeat" or "rejected".
func (m *PrometheusMetrics) RecordPush(eventType, result string) {
	if m == nil {
		return
	}
	m.PushCounter.WithLabelValues(eventType, result).Inc()
}

// RecordStatusChange counts a host transition.
func (m *PrometheusMetrics) RecordStatusChange(newStatus string) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(newStatus).Inc()
}

// RecordCommand counts a command at a stage of its life.
func (m *PrometheusMetrics) RecordCommand(command, stage string) {
	if m == nil {
		return
	}
	m.CommandCounter.WithLabelValues(command, stage).Inc()
}

// RecordAck counts an acknowledgement.
func (m *PrometheusMetrics) RecordAck(status string) {
	if m == nil {
		return
	}
	m.AckCounter.WithLabelValues(status).Inc()
}

// RecordAuthFailure counts a rejected agent request.
func (m *PrometheusMetrics) RecordAuthFailure(endpoint string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(endpoint).Inc()
}

// SetAgentCount sets the number of agents in a state.
func (m *PrometheusMetrics) SetAgentCount(state string, n int) {
	if m == nil {
		return
	}
	m.AgentGauge.WithLabelValues(state).Set(float64(n))
}

// ObserveRequest records a request duration.
func (m *PrometheusMetrics) ObserveRequest(route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDurations.WithLabelValues(route, fmt.Sprintf("%dxx", status/100)).Observe(seconds)
}
