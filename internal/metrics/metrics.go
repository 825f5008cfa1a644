// ABOUTME: Prometheus collectors for relay traffic and agent coordination
// ABOUTME: Registered at import via promauto, served on the /metrics endpoint

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Currently connected clients",
		},
	)

	// Traffic metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_received_total",
			Help: "Inbound client events by type",
		},
		[]string{"type"},
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_broadcasts_total",
			Help: "Events fanned out to connected clients",
		},
	)

	// Enrichment metrics
	TagFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_tag_failures_total",
			Help: "Tag-generation calls that failed and were skipped",
		},
	)

	// Agent metrics
	AgentInvocations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_agent_invocations_total",
			Help: "Agent webhook notifications fired",
		},
	)

	AgentRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_agent_rate_limited_total",
			Help: "Agent invocations denied by the per-user cooldown",
		},
	)

	AgentCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_agent_callbacks_total",
			Help: "Inbound agent callbacks by outcome",
		},
		[]string{"outcome"}, // "success" or "unauthorized"
	)
)
