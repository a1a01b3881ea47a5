// Package metrics exposes prometheus instrumentation for the dispatcher and
// the memory graph.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors Clair records into. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	routed      *prometheus.CounterVec
	actions     *prometheus.CounterVec
	generations *prometheus.CounterVec
	persists    *prometheus.CounterVec
	fallbacks   prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clair",
			Name:      "prompts_routed_total",
			Help:      "Prompts processed, by the agent they were routed to.",
		}, []string{"agent"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clair",
			Name:      "agent_actions_total",
			Help:      "Agent actions executed, by action and outcome.",
		}, []string{"action", "outcome"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clair",
			Name:      "flux_generations_total",
			Help:      "Flux generation calls, by result code.",
		}, []string{"code"}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clair",
			Name:      "memory_snapshot_writes_total",
			Help:      "Memory snapshot writes, by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clair",
			Name:      "memory_fallback_nodes_total",
			Help:      "Nodes synthesized because the memory graph could not store them.",
		}),
	}

	for _, c := range []prometheus.Collector{m.routed, m.actions, m.generations, m.persists, m.fallbacks} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// PromptRouted counts one prompt handled by agentID.
func (m *Metrics) PromptRouted(agentID string) {
	if m == nil {
		return
	}
	m.routed.WithLabelValues(agentID).Inc()
}

// ActionExecuted counts one agent action and whether it succeeded.
func (m *Metrics) ActionExecuted(action string, ok bool) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, outcome(ok)).Inc()
}

// Generation counts one generation call. An empty code means success.
func (m *Metrics) Generation(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.generations.WithLabelValues(code).Inc()
}

// FallbackNode counts one synthesized node.
func (m *Metrics) FallbackNode() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// SnapshotPersisted implements memory.Observer.
func (m *Metrics) SnapshotPersisted(err error) {
	if m == nil {
		return
	}
	m.persists.WithLabelValues(outcome(err == nil)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
