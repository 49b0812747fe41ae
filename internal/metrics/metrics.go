// ABOUTME: Prometheus instrumentation for the dispatch core
// ABOUTME: All collectors register against an explicit Registerer, no globals

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the server exposes. Labels are tenant
// keys, never tenant ids, so dashboards stay readable.
type Metrics struct {
	TalksCreated    *prometheus.CounterVec
	TalksClosed     *prometheus.CounterVec
	Assignments     *prometheus.CounterVec
	Messages        *prometheus.CounterVec
	WaitingTalks    *prometheus.GaugeVec
	LiveTalks       *prometheus.GaugeVec
	ConnectedAgents *prometheus.GaugeVec
}

// New creates and registers all collectors against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TalksCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livedesk_talks_created_total",
			Help: "Talks created, by tenant.",
		}, []string{"tenant"}),
		TalksClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livedesk_talks_closed_total",
			Help: "Talks reaching a terminal status, by tenant and status.",
		}, []string{"tenant", "status"}),
		Assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livedesk_assignments_total",
			Help: "Talks assigned to agents, by tenant and dispatch mode.",
		}, []string{"tenant", "mode"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livedesk_messages_total",
			Help: "Messages accepted, by tenant and sender classification.",
		}, []string{"tenant", "sender"}),
		WaitingTalks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livedesk_waiting_talks",
			Help: "Talks currently waiting for assignment, by tenant.",
		}, []string{"tenant"}),
		LiveTalks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livedesk_live_talks",
			Help: "Talks currently waiting or in service, by tenant.",
		}, []string{"tenant"}),
		ConnectedAgents: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livedesk_connected_agents",
			Help: "Agents with a live socket, by tenant.",
		}, []string{"tenant"}),
	}
}

// NewNop returns metrics backed by a throwaway registry. Used in tests and
// when metrics are disabled.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
